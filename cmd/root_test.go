package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "migrate", "queue", "status", "serve", "export", "extract"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "maps-scraper", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("max-results")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)

	flag = runCmd.Flags().Lookup("summary")
	require.NotNil(t, flag)
	assert.Equal(t, "scraper_results.json", flag.DefValue)

	flag = runCmd.Flags().Lookup("headless")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)

	assert.True(t, runCmd.SilenceUsage)
	assert.NotNil(t, runCmd.PersistentPreRunE, "run overrides setup so failures reach the summary")
}

func TestQueueCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range queueCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["add"])
	assert.True(t, names["list"])

	require.NotNil(t, queueAddCmd.Flags().Lookup("file"))
	all := queueListCmd.Flags().Lookup("all")
	require.NotNil(t, all)
	assert.Equal(t, "false", all.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestStatusCommand_Args(t *testing.T) {
	assert.Error(t, statusCmd.Args(statusCmd, nil))
	assert.NoError(t, statusCmd.Args(statusCmd, []string{"run-1"}))

	flag := statusCmd.Flags().Lookup("events")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("out")
	require.NotNil(t, flag)
	assert.Equal(t, "leads.xlsx", flag.DefValue)
}

func TestExtractCommand_Flags(t *testing.T) {
	flag := extractCmd.Flags().Lookup("url")
	require.NotNil(t, flag)
	assert.Equal(t, snapshotURL, flag.DefValue)
	assert.Error(t, extractCmd.Args(extractCmd, nil))
}
