package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/board-archiver/internal/config"
)

func TestParseList(t *testing.T) {
	t.Parallel()

	in := `
# watched threads
https://archive.example/a/thread/1

  https://archive.example/b/thread/2  
`
	urls, err := parseList(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://archive.example/a/thread/1",
		"https://archive.example/b/thread/2",
	}, urls)
}

func TestApplyFlagsOnlyOverridesChanged(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Archiver.SkipJS = true

	var cfgFile string
	cmd := newArchiveCmd(&cfgFile)
	require.NoError(t, cmd.ParseFlags([]string{"--run-once", "--http", "-o", "/tmp/out", "--follow-children"}))

	var flags archiveFlags
	flags.useHTTP = true
	flags.baseDir = "/tmp/out"
	applyFlags(cmd, &cfg, flags)

	require.True(t, cfg.Archiver.RunOnce)
	require.True(t, cfg.Archiver.FollowChildThreads)
	require.False(t, cfg.Archiver.UseSSL)
	require.Equal(t, "/tmp/out", cfg.Archiver.BaseDir)
	require.True(t, cfg.Archiver.SkipJS, "unset flags keep config values")
	require.False(t, cfg.Server.Enabled)
}

func TestArchiveRequiresInput(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"archive", "--base-dir", t.TempDir()})
	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no thread URLs")
}
