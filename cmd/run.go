package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/maps-scraper/internal/browser"
	"github.com/sells-group/maps-scraper/internal/model"
	"github.com/sells-group/maps-scraper/internal/monitoring"
	"github.com/sells-group/maps-scraper/internal/persist"
	"github.com/sells-group/maps-scraper/internal/runner"
	"github.com/sells-group/maps-scraper/internal/scrape"
)

const defaultSummaryPath = "scraper_results.json"

var (
	runMaxResults int
	runSummary    string
	runHeadless   bool

	// setupErr holds a config or logger failure for the run command, which
	// must still write its summary.
	setupErr error
)

var runCmd = &cobra.Command{
	Use:          "run",
	Short:        "Scrape every unused search term once",
	Long:         "Loads the unused search terms, scrapes each one in order and stores new leads. The run summary is written on every exit path.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupErr = setup()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runJob(ctx, cmd)
	},
}

// runJob executes one run and always writes the summary. The returned error
// is non-nil when the run failed or the summary could not be written.
func runJob(ctx context.Context, cmd *cobra.Command) error {
	runKey, externalID := runIdentity()
	sum := model.NewRunSummary(runKey, externalID, time.Now())
	path := summaryPath(cmd)

	fatal := executeRun(ctx, cmd, sum)

	if err := runner.WriteSummary(path, sum); err != nil {
		zap.L().Error("run: write summary", zap.String("path", path), zap.Error(err))
		if fatal == nil {
			fatal = err
		}
	} else {
		zap.L().Info("run: summary written", zap.String("path", path), zap.String("status", string(sum.Status)))
	}

	if cfg != nil {
		alerter := monitoring.NewAlerter(cfg.Monitoring)
		if alerts := alerter.Evaluate(sum); len(alerts) > 0 {
			alerter.SendAlerts(context.WithoutCancel(ctx), alerts)
		}
	}

	return fatal
}

func executeRun(ctx context.Context, cmd *cobra.Command, sum *model.RunSummary) error {
	fail := func(err error) error {
		sum.Finish(time.Now(), err)
		return err
	}

	if setupErr != nil {
		return fail(setupErr)
	}
	applyRunFlags(cmd)
	if err := cfg.Validate("run"); err != nil {
		return fail(err)
	}

	log := zap.L().With(zap.String("component", "run"), zap.String("run_key", sum.RunKey))

	sel, err := scrape.LoadSelectors(cfg.Scrape.SelectorsFile)
	if err != nil {
		return fail(err)
	}

	st, err := openStore(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "run: open store"))
	}
	defer st.Close() //nolint:errcheck

	mon := monitoring.New(st, sum.RunKey, sum.ExternalRunID)

	chrome, err := browser.NewChrome(ctx, browser.ChromeOptions{
		Headless:      cfg.Scrape.Headless,
		ExecPath:      cfg.Scrape.ChromePath,
		UserAgent:     cfg.Scrape.UserAgent,
		Locale:        cfg.Scrape.Locale,
		Timezone:      cfg.Scrape.Timezone,
		ActionTimeout: cfg.Scrape.ActionTimeout(),
	})
	if err != nil {
		err = fail(eris.Wrap(err, "run: launch browser"))
		reportSetupFailure(ctx, mon, sum, err)
		return err
	}
	defer chrome.Close()

	snaps := scrape.NewSnapshotter(cfg.Debug.Dir, cfg.Debug.MaxSnapshots)
	searcher := scrape.NewSearcher(chrome, sel, scrape.SearchOptions{
		BaseURL:         cfg.Scrape.SearchBaseURL,
		MaxResults:      cfg.Scrape.MaxResultsPerSearch,
		NavTimeout:      cfg.Scrape.NavTimeout(),
		ActionTimeout:   cfg.Scrape.ActionTimeout(),
		Settle:          time.Duration(cfg.Scrape.SettleMs) * time.Millisecond,
		MaxScrolls:      cfg.Scrape.MaxScrolls,
		ScrollPause:     time.Duration(cfg.Scrape.ScrollPauseMs) * time.Millisecond,
		ListingInterval: time.Duration(cfg.Scrape.ListingIntervalMs) * time.Millisecond,
	}, snaps)

	r := runner.New(st, searcher, persist.New(st), mon, runner.Options{
		QueueLimit: cfg.Scrape.QueueLimit,
		TermPause:  cfg.Scrape.TermPause(),
	})

	log.Info("run: starting",
		zap.Int("max_results", cfg.Scrape.MaxResultsPerSearch),
		zap.Bool("headless", cfg.Scrape.Headless),
	)
	err = r.Run(ctx, sum)
	log.Info("run: finished",
		zap.String("status", string(sum.Status)),
		zap.Int("searches_processed", sum.SearchesProcessed),
		zap.Int("businesses_inserted", sum.BusinessesInserted),
		zap.Int("snapshots", snaps.Taken()),
	)
	return err
}

// reportSetupFailure publishes a failure that happened before the runner
// took over the monitor.
func reportSetupFailure(ctx context.Context, mon monitoring.Monitor, sum *model.RunSummary, err error) {
	mon.UpdateProgress(ctx, model.Progress{
		Status:        model.RunStatusFailed,
		CurrentAction: model.ActionFailed,
		Counters:      sum.Counters,
		ErrorMessage:  err.Error(),
		StartedAt:     sum.StartedAt,
		CompletedAt:   sum.FinishedAt,
	})
	mon.LogEvent(ctx, model.Event{
		Level:   model.LevelError,
		Type:    model.EventFatal,
		Message: "Scraper crashed: " + err.Error(),
	})
}

func applyRunFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	if cmd.Flags().Changed("max-results") {
		cfg.Scrape.MaxResultsPerSearch = runMaxResults
	}
	if cmd.Flags().Changed("headless") {
		cfg.Scrape.Headless = runHeadless
	}
}

// runIdentity returns the run key and external run id. Without a loaded
// config it falls back to the workflow environment.
func runIdentity() (string, string) {
	if cfg != nil {
		return cfg.Run.RunKey, cfg.Run.ExternalRunID
	}
	return os.Getenv("RUN_KEY"), os.Getenv("GITHUB_RUN_ID")
}

func summaryPath(cmd *cobra.Command) string {
	if cmd != nil && cmd.Flags().Changed("summary") && runSummary != "" {
		return runSummary
	}
	if cfg != nil && cfg.Run.SummaryPath != "" {
		return cfg.Run.SummaryPath
	}
	return defaultSummaryPath
}

func init() {
	runCmd.Flags().IntVar(&runMaxResults, "max-results", 20, "max listings scraped per search term (default from config)")
	runCmd.Flags().StringVar(&runSummary, "summary", defaultSummaryPath, "path of the run summary JSON (default from config)")
	runCmd.Flags().BoolVar(&runHeadless, "headless", true, "run Chrome headless (default from config)")
	rootCmd.AddCommand(runCmd)
}
