package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Debug      DebugConfig      `yaml:"debug" mapstructure:"debug"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Password    string `yaml:"password" mapstructure:"password"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ScrapeConfig configures the browser-driven search scrape.
type ScrapeConfig struct {
	SearchBaseURL       string `yaml:"search_base_url" mapstructure:"search_base_url"`
	MaxResultsPerSearch int    `yaml:"max_results_per_search" mapstructure:"max_results_per_search"`
	NavTimeoutMs        int    `yaml:"nav_timeout_ms" mapstructure:"nav_timeout_ms"`
	ActionTimeoutMs     int    `yaml:"action_timeout_ms" mapstructure:"action_timeout_ms"`
	SettleMs            int    `yaml:"settle_ms" mapstructure:"settle_ms"`
	TermPauseMs         int    `yaml:"term_pause_ms" mapstructure:"term_pause_ms"`
	ListingIntervalMs   int    `yaml:"listing_interval_ms" mapstructure:"listing_interval_ms"`
	MaxScrolls          int    `yaml:"max_scrolls" mapstructure:"max_scrolls"`
	ScrollPauseMs       int    `yaml:"scroll_pause_ms" mapstructure:"scroll_pause_ms"`
	QueueLimit          int    `yaml:"queue_limit" mapstructure:"queue_limit"`
	SelectorsFile       string `yaml:"selectors_file" mapstructure:"selectors_file"`
	Headless            bool   `yaml:"headless" mapstructure:"headless"`
	Locale              string `yaml:"locale" mapstructure:"locale"`
	Timezone            string `yaml:"timezone" mapstructure:"timezone"`
	UserAgent           string `yaml:"user_agent" mapstructure:"user_agent"`
	ChromePath          string `yaml:"chrome_path" mapstructure:"chrome_path"`
}

// NavTimeout returns the per-navigation timeout.
func (c ScrapeConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutMs) * time.Millisecond
}

// ActionTimeout returns the per-action (wait, click) timeout.
func (c ScrapeConfig) ActionTimeout() time.Duration {
	return time.Duration(c.ActionTimeoutMs) * time.Millisecond
}

// TermPause returns the fixed pause applied between search terms.
func (c ScrapeConfig) TermPause() time.Duration {
	return time.Duration(c.TermPauseMs) * time.Millisecond
}

// DebugConfig controls failure snapshots (screenshot + HTML pairs).
type DebugConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	MaxSnapshots int    `yaml:"max_snapshots" mapstructure:"max_snapshots"`
}

// RunConfig identifies a run and where its summary artifact goes.
type RunConfig struct {
	RunKey        string `yaml:"run_key" mapstructure:"run_key"`
	ExternalRunID string `yaml:"external_run_id" mapstructure:"external_run_id"`
	SummaryPath   string `yaml:"summary_path" mapstructure:"summary_path"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures end-of-run alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinSearches          int     `yaml:"min_searches" mapstructure:"min_searches"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps config keys to the bare environment names used by the
// scheduled workflow. The prefixed name is still honored.
var legacyEnv = map[string]string{
	"scrape.max_results_per_search": "MAX_RESULTS_PER_SEARCH",
	"scrape.nav_timeout_ms":         "NAV_TIMEOUT_MS",
	"scrape.action_timeout_ms":      "ACTION_TIMEOUT_MS",
	"run.run_key":                   "RUN_KEY",
	"run.external_run_id":           "GITHUB_RUN_ID",
	"store.database_url":            "DATABASE_URL",
	"store.password":                "DATABASE_PASSWORD",
	"debug.dir":                     "DEBUG_DIR",
	"debug.max_snapshots":           "DEBUG_MAX_SNAPSHOTS",
}

const envPrefix = "SCRAPER"

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", legacy)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("scrape.search_base_url", "https://www.google.com/maps/search/")
	v.SetDefault("scrape.max_results_per_search", 20)
	v.SetDefault("scrape.nav_timeout_ms", 90000)
	v.SetDefault("scrape.action_timeout_ms", 20000)
	v.SetDefault("scrape.settle_ms", 1500)
	v.SetDefault("scrape.term_pause_ms", 750)
	v.SetDefault("scrape.listing_interval_ms", 500)
	v.SetDefault("scrape.max_scrolls", 12)
	v.SetDefault("scrape.scroll_pause_ms", 900)
	v.SetDefault("scrape.queue_limit", 1000)
	v.SetDefault("scrape.headless", true)
	v.SetDefault("scrape.locale", "en-GB")
	v.SetDefault("scrape.timezone", "Europe/London")
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("debug.dir", "debug_artifacts")
	v.SetDefault("debug.max_snapshots", 10)
	v.SetDefault("run.summary_path", "scraper_results.json")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_searches", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode is one of
// "run", "store" or "serve". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	storeChecks := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required for postgres (DATABASE_URL)")
			}
		case "sqlite":
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
	}

	switch mode {
	case "run":
		storeChecks()
		if c.Scrape.MaxResultsPerSearch <= 0 {
			problems = append(problems, "scrape.max_results_per_search must be > 0")
		}
		if c.Scrape.NavTimeoutMs <= 0 || c.Scrape.ActionTimeoutMs <= 0 {
			problems = append(problems, "scrape.nav_timeout_ms and scrape.action_timeout_ms must be > 0")
		}
		if c.Run.SummaryPath == "" {
			problems = append(problems, "run.summary_path is required")
		}
	case "store":
		storeChecks()
	case "serve":
		storeChecks()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
