package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/cascade/internal/calendar"
	"github.com/roach88/cascade/internal/config"
	"github.com/roach88/cascade/internal/notify"
	"github.com/roach88/cascade/internal/payout"
	"github.com/roach88/cascade/internal/plan"
	"github.com/roach88/cascade/internal/scheduler"
	"github.com/roach88/cascade/internal/store"
)

// Scheduled job names.
const (
	JobDailyReturns     = "daily-returns"
	JobLedgerStats      = "ledger-stats"
	JobMonthlyReconcile = "monthly-reconcile"
)

// App is the wired process: ledger, engine, notifications and jobs.
type App struct {
	Config     *config.Config
	Store      *store.Store
	Plan       *plan.Plan
	Calendar   *calendar.Calendar
	Engine     *payout.Engine
	Dispatcher *notify.Dispatcher
	Metrics    *payout.Metrics
	Registry   *prometheus.Registry
	Scheduler  *scheduler.Scheduler
	Logger     *slog.Logger
}

// setupLogging installs a text handler on w, at debug level when verbose.
func setupLogging(verbose bool, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openApp loads configuration and wires every component. The caller must
// Close the app.
func openApp(opts *RootOptions, cmd *cobra.Command) (*App, error) {
	logger := setupLogging(opts.Verbose, cmd.ErrOrStderr())

	cfg, err := config.Load(opts.ConfigFile, cmd.Root().PersistentFlags())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	loc, err := calendar.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid timezone", err)
	}
	p, err := plan.Load(cfg.PlanFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load plan", err)
	}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	app := &App{
		Config:   cfg,
		Store:    st,
		Plan:     p,
		Calendar: calendar.New(opts.Clock, loc),
		Registry: prometheus.NewRegistry(),
		Logger:   logger,
	}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = payout.MustNewMetrics(app.Registry)

	sender, err := newSender(opts, cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to configure notifications", err)
	}
	app.Dispatcher = notify.NewDispatcher(sender, st,
		notify.WithQueueSize(cfg.Notify.QueueSize),
		notify.WithLogger(logger))

	app.Engine, err = payout.New(st, p, app.Calendar,
		payout.WithNotifier(app.Dispatcher),
		payout.WithMetrics(app.Metrics),
		payout.WithLogger(logger),
		payout.WithConcurrency(cfg.Concurrency))
	if err != nil {
		_ = app.Close(context.Background())
		return nil, WrapExitError(ExitCommandError, "failed to create payout engine", err)
	}

	app.Scheduler = scheduler.New(loc, logger, scheduler.WithClock(app.Calendar.Now))
	if err := app.registerJobs(); err != nil {
		_ = app.Close(context.Background())
		return nil, WrapExitError(ExitCommandError, "failed to register jobs", err)
	}
	return app, nil
}

func newSender(opts *RootOptions, cfg *config.Config, logger *slog.Logger) (notify.Sender, error) {
	if opts.Sender != nil {
		return opts.Sender, nil
	}
	if cfg.Notify.TelegramToken == "" {
		logger.Debug("no telegram token configured, notifications are logged only")
		return notify.LogSender{Logger: logger}, nil
	}
	return notify.NewTelegramSender(cfg.Notify.TelegramToken)
}

// registerJobs registers the payout job and its siblings at their
// configured local times. Validate has already checked the formats.
func (a *App) registerJobs() error {
	daily, err := config.ParseClock(a.Config.Jobs.DailyReturns)
	if err != nil {
		return err
	}
	if _, err := a.Scheduler.RegisterDaily(JobDailyReturns, daily.Hour, daily.Minute, a.Engine.RunCurrent); err != nil {
		return err
	}

	stats, err := config.ParseClock(a.Config.Jobs.LedgerStats)
	if err != nil {
		return err
	}
	if _, err := a.Scheduler.RegisterDaily(JobLedgerStats, stats.Hour, stats.Minute, a.ledgerStats); err != nil {
		return err
	}

	monthly, err := config.ParseMonthly(a.Config.Jobs.Reconcile)
	if err != nil {
		return err
	}
	_, err = a.Scheduler.RegisterMonthly(JobMonthlyReconcile, monthly.Day, monthly.Hour, monthly.Minute, a.monthlyReconcile)
	return err
}

// ledgerStats logs and exports a ledger snapshot.
func (a *App) ledgerStats(ctx context.Context) error {
	st, err := a.Store.Stats(ctx)
	if err != nil {
		return err
	}
	a.Metrics.ObserveLedgerStats(st)
	a.Logger.Info("ledger stats",
		"accounts", st.Accounts,
		"completed_deposits", st.CompletedDeposits,
		"returns", st.Returns,
		"commissions", st.Commissions,
		"total_balance", st.TotalBalance.String())
	return nil
}

// monthlyReconcile checks the previous calendar month. Mismatches are
// reported, not repaired.
func (a *App) monthlyReconcile(ctx context.Context) error {
	from, to := a.Calendar.Today().PreviousMonth()
	report, err := a.Engine.Reconcile(ctx, from, to)
	if err != nil {
		return err
	}
	for _, m := range report.Mismatches {
		a.Logger.Warn("return needs repair",
			"return", m.ReturnID,
			"deposit", m.DepositID,
			"period", m.Period,
			"reasons", m.Reasons)
	}
	return nil
}

// Close stops the scheduler, drains notifications and closes the ledger.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Scheduler != nil {
		if err := a.Scheduler.StopAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}
	if a.Dispatcher != nil {
		if err := a.Dispatcher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain notifications: %w", err))
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	return errors.Join(errs...)
}
