package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/board-archiver/internal/config"
	"github.com/JakeFAU/board-archiver/internal/logging"
	"github.com/JakeFAU/board-archiver/internal/server"
)

type archiveFlags struct {
	list                string
	baseDir             string
	runOnce             bool
	silent              bool
	thumbsOnly          bool
	skipThumbs          bool
	skipCSS             bool
	skipJS              bool
	followChildThreads  bool
	followToOtherBoards bool
	useHTTP             bool
	serve               bool
}

// newArchiveCmd creates the 'archive' subcommand.
func newArchiveCmd(cfgFile *string) *cobra.Command {
	var flags archiveFlags
	cmd := &cobra.Command{
		Use:   "archive [thread-url...]",
		Short: "Archive threads and keep them updated",
		Long: `Starts watching every thread URL given as an argument or listed in the
--list file (one URL per line, blank lines and lines starting with # ignored).
With --server the control API accepts more threads while running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd, *cfgFile, flags, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.list, "list", "l", "", "file with one thread URL per line")
	f.StringVarP(&flags.baseDir, "base-dir", "o", "", "archive root directory")
	f.BoolVar(&flags.runOnce, "run-once", false, "download every thread once, then exit")
	f.BoolVarP(&flags.silent, "silent", "s", false, "suppress per-file download logs")
	f.BoolVar(&flags.thumbsOnly, "thumbs-only", false, "download thumbnails only")
	f.BoolVar(&flags.skipThumbs, "skip-thumbs", false, "do not download thumbnails")
	f.BoolVar(&flags.skipCSS, "skip-css", false, "do not mirror stylesheets")
	f.BoolVar(&flags.skipJS, "skip-js", false, "do not mirror scripts")
	f.BoolVarP(&flags.followChildThreads, "follow-children", "c", false, "also archive threads linked from replies")
	f.BoolVar(&flags.followToOtherBoards, "follow-other-boards", false, "follow child threads on other boards")
	f.BoolVar(&flags.useHTTP, "http", false, "use plain http instead of https")
	f.BoolVar(&flags.serve, "server", false, "run the HTTP control API")
	return cmd
}

func runArchive(cmd *cobra.Command, cfgFile string, flags archiveFlags, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, &cfg, flags)
	if err := cfg.Validate(); err != nil {
		return err
	}

	urls := append([]string(nil), args...)
	if flags.list != "" {
		listed, err := readList(flags.list)
		if err != nil {
			return err
		}
		urls = append(urls, listed...)
	}
	if len(urls) == 0 && !cfg.Server.Enabled {
		return errors.New("no thread URLs given; pass URLs, --list or --server")
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(ctx, urls); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run archiver: %w", err)
	}
	return nil
}

// applyFlags overrides config values with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags archiveFlags) {
	changed := cmd.Flags().Changed
	a := &cfg.Archiver
	if changed("base-dir") {
		a.BaseDir = flags.baseDir
	}
	for name, dst := range map[string]*bool{
		"run-once":            &a.RunOnce,
		"silent":              &a.Silent,
		"thumbs-only":         &a.ThumbsOnly,
		"skip-thumbs":         &a.SkipThumbs,
		"skip-css":            &a.SkipCSS,
		"skip-js":             &a.SkipJS,
		"follow-children":     &a.FollowChildThreads,
		"follow-other-boards": &a.FollowToOtherBoards,
		"server":              &cfg.Server.Enabled,
	} {
		if changed(name) {
			v, _ := cmd.Flags().GetBool(name)
			*dst = v
		}
	}
	if changed("http") {
		a.UseSSL = !flags.useHTTP
	}
}

func readList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open thread list: %w", err)
	}
	defer f.Close()
	urls, err := parseList(f)
	if err != nil {
		return nil, fmt.Errorf("read thread list %s: %w", path, err)
	}
	return urls, nil
}

func parseList(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return urls, nil
}
