package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Scrape.MaxResultsPerSearch)
	assert.Equal(t, 90000, cfg.Scrape.NavTimeoutMs)
	assert.Equal(t, 20000, cfg.Scrape.ActionTimeoutMs)
	assert.Equal(t, 750, cfg.Scrape.TermPauseMs)
	assert.Equal(t, 1000, cfg.Scrape.QueueLimit)
	assert.Equal(t, "https://www.google.com/maps/search/", cfg.Scrape.SearchBaseURL)
	assert.Equal(t, "en-GB", cfg.Scrape.Locale)
	assert.Equal(t, "Europe/London", cfg.Scrape.Timezone)
	assert.True(t, cfg.Scrape.Headless)
	assert.Equal(t, "debug_artifacts", cfg.Debug.Dir)
	assert.Equal(t, 10, cfg.Debug.MaxSnapshots)
	assert.Equal(t, "scraper_results.json", cfg.Run.SummaryPath)
	assert.Empty(t, cfg.Run.RunKey)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	assert.InDelta(t, 0.5, cfg.Monitoring.FailureRateThreshold, 1e-9)
	assert.Equal(t, 5, cfg.Monitoring.MinSearches)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: leads.db
log:
  level: debug
  format: console
scrape:
  max_results_per_search: 5
  max_scrolls: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "leads.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Scrape.MaxResultsPerSearch)
	assert.Equal(t, 3, cfg.Scrape.MaxScrolls)
	// Defaults still apply for unset values
	assert.Equal(t, 90000, cfg.Scrape.NavTimeoutMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SCRAPER_STORE_DRIVER", "postgres")
	t.Setenv("SCRAPER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadLegacyEnvNames(t *testing.T) {
	chdirTemp(t)

	t.Setenv("MAX_RESULTS_PER_SEARCH", "7")
	t.Setenv("NAV_TIMEOUT_MS", "30000")
	t.Setenv("ACTION_TIMEOUT_MS", "5000")
	t.Setenv("RUN_KEY", "run-abc")
	t.Setenv("GITHUB_RUN_ID", "987654")
	t.Setenv("DATABASE_URL", "postgres://localhost/leads")
	t.Setenv("DEBUG_DIR", "/tmp/snaps")
	t.Setenv("DEBUG_MAX_SNAPSHOTS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Scrape.MaxResultsPerSearch)
	assert.Equal(t, 30*time.Second, cfg.Scrape.NavTimeout())
	assert.Equal(t, 5*time.Second, cfg.Scrape.ActionTimeout())
	assert.Equal(t, "run-abc", cfg.Run.RunKey)
	assert.Equal(t, "987654", cfg.Run.ExternalRunID)
	assert.Equal(t, "postgres://localhost/leads", cfg.Store.DatabaseURL)
	assert.Equal(t, "/tmp/snaps", cfg.Debug.Dir)
	assert.Equal(t, 3, cfg.Debug.MaxSnapshots)
}

func TestLoadPrefixedEnvForLegacyKey(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SCRAPER_RUN_RUN_KEY", "prefixed-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed-key", cfg.Run.RunKey)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Scrape.MaxResultsPerSearch = 20
	cfg.Scrape.NavTimeoutMs = 90000
	cfg.Scrape.ActionTimeoutMs = 20000
	cfg.Run.SummaryPath = "scraper_results.json"
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateRun_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("run"))
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Scrape.MaxResultsPerSearch = 0
	cfg.Scrape.NavTimeoutMs = 0

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "max_results_per_search must be > 0")
	assert.Contains(t, err.Error(), "nav_timeout_ms")
}

func TestValidateStore_SQLiteNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateStore_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql" is not supported`)
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
