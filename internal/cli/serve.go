package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds draining on exit.
const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler until interrupted",
		Long: `Start the scheduler and fire the payout job and its sibling jobs at their
configured local times until SIGINT or SIGTERM.

When metrics_addr is configured, Prometheus metrics are served at /metrics
and a ledger health check at /healthz.

Example:
  cascade serve --db ./cascade.db
  CASCADE_METRICS_ADDR=:9100 cascade serve --config /etc/cascade.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, cmd)
		},
	}
}

func runServe(opts *RootOptions, cmd *cobra.Command) error {
	app, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := app.Close(closeCtx); closeErr != nil {
			slog.Error("error during shutdown", "error", closeErr)
		}
	}()

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if addr := app.Config.MetricsAddr; addr != "" {
		srv, err = startMetricsServer(app, addr)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start metrics listener", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := app.Scheduler.StartAll(); err != nil {
		return WrapExitError(ExitFailure, "failed to start scheduler", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scheduler started in %s.\n", app.Calendar.Location())
	for _, j := range app.Scheduler.Jobs() {
		fmt.Fprintf(out, "  %-18s next %s\n", j.Name, j.Next.Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintln(out, "Press Ctrl-C to stop.")

	<-ctx.Done()
	slog.Info("shutting down", "cause", context.Cause(ctx))
	return nil
}

// healthTimeout bounds one /healthz ledger ping.
const healthTimeout = 2 * time.Second

// startMetricsServer serves the app registry at /metrics on addr.
func startMetricsServer(app *App, addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: newMetricsMux(app), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("metrics listener failed", "error", err)
		}
	}()
	app.Logger.Info("metrics listening", "addr", ln.Addr().String())
	return srv, nil
}

func newMetricsMux(app *App) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{Registry: app.Registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := app.Store.Ping(ctx); err != nil {
			app.Logger.Warn("health check failed", "error", err)
			http.Error(w, "ledger unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	return mux
}
