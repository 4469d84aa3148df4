// Package cmd defines and implements the CLI commands for the board-archiver executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "board-archiver",
		Short: "Archives FoolFuuka imageboard threads until they 404 or are archived.",
		Long: `board-archiver watches threads on FoolFuuka archives, downloading every
new reply, image and thumbnail, and mirroring the thread page to disk. Threads
are polled on a fixed delay until the archive reports them gone.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newArchiveCmd(&cfgFile))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "board-archiver: %v\n", err)
		os.Exit(1)
	}
}
