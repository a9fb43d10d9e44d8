package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ingest-quality-service/internal/scheduler"
	"ingest-quality-service/internal/telemetry"
)

var (
	scheduleMetricsAddr     string
	scheduleRunNow          bool
	scheduleRejectedDir     string
	scheduleShutdownTimeout time.Duration
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Re-sync sources on their cron schedules and serve /metrics",
	Long: `Run until interrupted, syncing each source whose configuration carries a
schedule. Sync and assessment metrics are served in the Prometheus exposition
format on --metrics-addr.

Schedules use cron syntax with an optional seconds field, or descriptors such
as "@every 30m" and "@daily".

Examples:
  ingest-quality schedule --config ingest.yaml

  # Sync everything once on startup, metrics on :9100
  ingest-quality schedule --config ingest.yaml --run-now --metrics-addr :9100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchedule(cmd)
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleMetricsAddr, "metrics-addr", ":9090", "Address to serve /metrics and /healthz on (empty disables)")
	scheduleCmd.Flags().BoolVar(&scheduleRunNow, "run-now", false, "Sync every source once before waiting for schedules")
	scheduleCmd.Flags().StringVar(&scheduleRejectedDir, "rejected-dir", "", "Append invalid new records to <dir>/<source>.rejected.ndjson")
	scheduleCmd.Flags().DurationVar(&scheduleShutdownTimeout, "shutdown-timeout", 30*time.Second, "How long to wait for running syncs on shutdown")
}

func runSchedule(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	recorder := telemetry.NewRecorder(telemetry.WithRuntimeMetrics())
	stack, err := buildSyncStack(ctx, cfg, stackOptions{rejectedDir: scheduleRejectedDir, recorder: recorder})
	if err != nil {
		return err
	}
	defer stack.Close()

	sched := scheduler.New(stack.coordinator, logger)
	for _, src := range cfg.Sources {
		if src.Schedule == "" {
			continue
		}
		if err := sched.Add(src.ID, src.Schedule); err != nil {
			return err
		}
	}
	if len(sched.Sources()) == 0 {
		return eris.New("no source has a schedule")
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if scheduleMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
		})
		server = &http.Server{
			Addr:              scheduleMetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", zap.String("addr", scheduleMetricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	if scheduleRunNow {
		for _, res := range stack.coordinator.SyncAll(ctx) {
			if !res.Success {
				logger.Warn("initial sync failed", zap.String("source_id", res.SourceID), zap.Strings("errors", res.Errors))
			}
		}
	}

	sched.Start()
	for _, id := range sched.Sources() {
		next, _ := sched.Next(id)
		fmt.Printf("%-30s next sync %s\n", id, next.Format(time.RFC3339))
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		logger.Error("metrics server failed", zap.Error(err))
		_ = stopScheduler(sched, server)
		return eris.Wrap(err, "metrics server failed")
	}
	return stopScheduler(sched, server)
}

func stopScheduler(sched *scheduler.Scheduler, server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), scheduleShutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	return sched.Stop(ctx)
}
