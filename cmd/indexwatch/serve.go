package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/indexwatch/internal/logger"
)

var runNow bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run on a cron schedule until interrupted",
	Long: `Runs the fetch, merge and compute pass on the configured cron schedule.
Answers /ping and /latest on Telegram when enabled and exposes Prometheus
metrics on telemetry.listen_addr when set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.telegram != nil {
			a.telegram.ListenForCommands(ctx, a.store)
		}

		if addr := cfg.Telemetry.ListenAddr; addr != "" {
			srv := startMetricsServer(addr, a)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx) //nolint:errcheck
			}()
		}

		cycle := a.cycle(ctx)
		if runNow {
			logger.Debug("Running initial cycle")
			cycle()
		}

		c := cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
		if _, err := c.AddFunc(cfg.Schedule.Cron, cycle); err != nil {
			return err
		}
		c.Start()
		logger.Info("Scheduler started (cron: %s)", cfg.Schedule.Cron)

		<-ctx.Done()
		logger.Info("Shutdown signal received, cleaning up...")
		<-c.Stop().Done()
		logger.Info("Service stopped")
		return nil
	},
}

// cycle returns the scheduled job. The first failure after a success sends an
// error notice; the first success after failures sends a recovery notice.
func (a *app) cycle(ctx context.Context) func() {
	consecutiveFailures := 0

	return func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		logger.Info("Starting scheduled cycle")

		res, err := a.runner.Run(ctx)
		a.publish(ctx, res)
		a.notify(res)

		if err != nil {
			consecutiveFailures++
			logger.Error("Cycle failed: %v", err)
			if consecutiveFailures == 1 && a.telegram != nil {
				if sendErr := a.telegram.SendError(err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}
		if consecutiveFailures > 0 && a.telegram != nil {
			if sendErr := a.telegram.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0
		logger.Info("Cycle completed in %v", time.Since(start))
	}
}

func startMetricsServer(addr string, a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.recorder.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	return srv
}

func init() {
	serveCmd.Flags().BoolVar(&runNow, "run-now", false, "Run one cycle immediately before waiting for the schedule")
	rootCmd.AddCommand(serveCmd)
}
