package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/maps-scraper/internal/config"
	"github.com/sells-group/maps-scraper/internal/model"
)

// withRunGlobals resets the package-level state the run command shares.
func withRunGlobals(t *testing.T, c *config.Config, setup error) {
	t.Helper()
	prevCfg, prevSetup := cfg, setupErr
	cfg, setupErr = c, setup
	t.Cleanup(func() { cfg, setupErr = prevCfg, prevSetup })
}

func readSummary(t *testing.T, path string) model.RunSummary {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var sum model.RunSummary
	require.NoError(t, json.Unmarshal(data, &sum))
	return sum
}

func TestRunJob_SetupFailureStillWritesSummary(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RUN_KEY", "run-setup")
	t.Setenv("GITHUB_RUN_ID", "555")
	withRunGlobals(t, nil, errors.New("load config: bad yaml"))

	err := runJob(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad yaml")

	sum := readSummary(t, defaultSummaryPath)
	assert.Equal(t, model.RunStatusFailed, sum.Status)
	assert.Equal(t, "run-setup", sum.RunKey)
	assert.Equal(t, "555", sum.ExternalRunID)
	assert.Contains(t, sum.Error, "bad yaml")
	assert.NotNil(t, sum.FinishedAt)
	require.Len(t, sum.SampleErrors, 1)
}

func TestRunJob_InvalidConfigWritesSummary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "summary.json")
	c := &config.Config{}
	c.Store.Driver = "mysql"
	c.Scrape.MaxResultsPerSearch = 20
	c.Scrape.NavTimeoutMs = 1000
	c.Scrape.ActionTimeoutMs = 1000
	c.Run.SummaryPath = path
	c.Run.RunKey = "run-cfg"
	withRunGlobals(t, c, nil)

	err := runJob(context.Background(), nil)
	require.Error(t, err)

	sum := readSummary(t, path)
	assert.Equal(t, model.RunStatusFailed, sum.Status)
	assert.Equal(t, "run-cfg", sum.RunKey)
	assert.Contains(t, sum.Error, `store.driver "mysql" is not supported`)
	assert.Zero(t, sum.SearchesTotal)
}

func TestRunJob_BadSelectorsFile(t *testing.T) {
	dir := t.TempDir()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(dir, "leads.db")
	c.Scrape.MaxResultsPerSearch = 20
	c.Scrape.NavTimeoutMs = 1000
	c.Scrape.ActionTimeoutMs = 1000
	c.Scrape.SelectorsFile = filepath.Join(dir, "missing.yaml")
	c.Run.SummaryPath = filepath.Join(dir, "summary.json")
	withRunGlobals(t, c, nil)

	err := runJob(context.Background(), nil)
	require.Error(t, err)

	sum := readSummary(t, c.Run.SummaryPath)
	assert.Equal(t, model.RunStatusFailed, sum.Status)
	assert.Contains(t, sum.Error, "scrape: read selectors")
}

func TestSummaryPath(t *testing.T) {
	withRunGlobals(t, nil, nil)
	assert.Equal(t, defaultSummaryPath, summaryPath(nil))

	c := &config.Config{}
	c.Run.SummaryPath = "artifacts/results.json"
	cfg = c
	assert.Equal(t, "artifacts/results.json", summaryPath(nil))
}

func TestRunIdentity(t *testing.T) {
	t.Setenv("RUN_KEY", "env-key")
	t.Setenv("GITHUB_RUN_ID", "env-id")

	withRunGlobals(t, nil, nil)
	key, id := runIdentity()
	assert.Equal(t, "env-key", key)
	assert.Equal(t, "env-id", id)

	c := &config.Config{}
	c.Run.RunKey = "cfg-key"
	cfg = c
	key, id = runIdentity()
	assert.Equal(t, "cfg-key", key)
	assert.Empty(t, id)
}

type recordingMonitor struct {
	progress []model.Progress
	events   []model.Event
}

func (m *recordingMonitor) UpdateProgress(_ context.Context, p model.Progress) {
	m.progress = append(m.progress, p)
}

func (m *recordingMonitor) LogEvent(_ context.Context, e model.Event) {
	m.events = append(m.events, e)
}

func TestReportSetupFailure(t *testing.T) {
	mon := &recordingMonitor{}
	sum := model.NewRunSummary("run-1", "", testNow)
	fatal := errors.New("run: launch browser: chrome not found")
	sum.Finish(testNow, fatal)

	reportSetupFailure(context.Background(), mon, sum, fatal)

	require.Len(t, mon.progress, 1)
	assert.Equal(t, model.RunStatusFailed, mon.progress[0].Status)
	assert.Equal(t, model.ActionFailed, mon.progress[0].CurrentAction)
	assert.NotNil(t, mon.progress[0].CompletedAt)
	require.Len(t, mon.events, 1)
	assert.Equal(t, model.EventFatal, mon.events[0].Type)
	assert.Equal(t, model.LevelError, mon.events[0].Level)
	assert.Contains(t, mon.events[0].Message, "chrome not found")
}

var testNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
