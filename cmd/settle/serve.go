package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clubops/settle/pkg/api"
	"github.com/clubops/settle/pkg/batch"
	"github.com/clubops/settle/pkg/config"
	"github.com/clubops/settle/pkg/events"
	"github.com/clubops/settle/pkg/log"
	"github.com/clubops/settle/pkg/metrics"
	"github.com/clubops/settle/pkg/monitor"
	"github.com/clubops/settle/pkg/orchestrator"
	"github.com/clubops/settle/pkg/progress"
	"github.com/clubops/settle/pkg/scheduler"
	"github.com/clubops/settle/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconciliation daemon",
	Long: `Run the settle daemon: the scheduler scans for due reconciliations on
its configured interval, lifecycle events feed the health monitor, aged
records are pruned daily, and an ops HTTP endpoint serves /healthz,
/readyz, /livez and /metrics.

With --batch-file, the manifest's reconciliations are kicked off once
right after startup; the scheduler then maintains their cadence.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Daemon config file (YAML)")
	serveCmd.Flags().String("data-dir", "", "Override the configured data directory")
	serveCmd.Flags().String("listen", "", "Override the configured ops listen address")
	serveCmd.Flags().String("batch-file", "", "Batch manifest to run once the daemon is up")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	d, err := config.LoadDaemon(cfgPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		d.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		d.Listen = v
	}
	batchFile, _ := cmd.Flags().GetString("batch-file")

	log.Init(log.Config{Level: log.Level(d.Log.Level), JSONOutput: d.Log.JSON})
	logger := log.WithComponent("daemon")
	metrics.SetVersion(Version)

	if err := os.MkdirAll(d.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}

	bolt, err := storage.NewBoltStore(d.DataDir)
	if err != nil {
		return err
	}
	store, err := storage.NewManager(bolt, storage.Options{
		CacheSize:   d.Storage.CacheSize,
		BatchWindow: d.BatchWindow(),
	})
	if err != nil {
		bolt.Close()
		return err
	}
	store.Start()
	metrics.RegisterComponent("storage", true, "bolt store open")

	cfgFile := d.ConfigPath
	if cfgFile == "" {
		cfgFile = reconciliationConfigPath(d.DataDir)
	}
	cfgSvc := config.NewService(cfgFile)
	if _, err := cfgSvc.Load(); err != nil {
		store.Close()
		return err
	}
	if err := cfgSvc.Watch(); err != nil {
		logger.Warn().Err(err).Msg("Config hot-reload unavailable")
	}

	broker := events.NewBroker()
	broker.Start()

	files := newDataFiles(d.DataDir)
	tracker := progress.NewTracker(store)
	orch := orchestrator.NewOrchestrator(store, tracker, cfgSvc, files, broker)
	sched := scheduler.NewScheduler(orch, files, store)
	mon := monitor.NewMonitor(newAlertLog(d.DataDir), monitor.Options{
		Retention: time.Duration(d.Monitor.RetentionDays) * 24 * time.Hour,
	})

	collector := metrics.NewCollector(store)
	collector.Start()

	ops := api.NewServer(d.Listen)
	if err := ops.Start(); err != nil {
		store.Close()
		return err
	}

	if err := sched.Start(d.SchedulerInterval()); err != nil {
		store.Close()
		return err
	}
	metrics.RegisterComponent("scheduler", true, "scanning")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	eventSub := broker.Subscribe()
	g.Go(func() error {
		logEvents(eventSub, log.WithComponent("events"))
		return nil
	})

	monSub := broker.Subscribe()
	g.Go(func() error {
		feedMonitor(monSub, mon, store, logger)
		return nil
	})

	g.Go(func() error {
		maintenanceLoop(gctx, store, mon, time.Duration(d.Monitor.RetentionDays)*24*time.Hour, logger)
		return nil
	})

	if batchFile != "" {
		g.Go(func() error {
			return runBatchManifest(gctx, orch, files, batchFile, batch.Options{
				MaxConcurrent: d.Batch.MaxConcurrent,
				CycleTimeout:  d.JobTimeout(),
				MaxRetries:    d.Batch.MaxRetries,
			}, logger)
		})
	}

	logger.Info().
		Str("data_dir", d.DataDir).
		Str("listen", ops.Addr()).
		Dur("scan_interval", d.SchedulerInterval()).
		Msg("Daemon running")

	<-gctx.Done()
	logger.Info().Msg("Shutting down")

	sched.Stop()
	metrics.UpdateComponent("scheduler", false, "stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Ops server shutdown failed")
	}

	collector.Stop()
	broker.Stop()
	broker.Drain()
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("Background worker failed")
	}

	cfgSvc.Close()
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	metrics.UpdateComponent("storage", false, "closed")
	logger.Info().Msg("Shutdown complete")
	return nil
}

// logEvents mirrors every lifecycle event into the log. Runs until the
// subscription is drained.
func logEvents(sub events.Subscriber, logger zerolog.Logger) {
	for ev := range sub {
		logger.Info().
			Str("event", string(ev.Type)).
			Str("job_id", ev.JobID).
			Str("district", ev.DistrictID).
			Str("target_month", ev.TargetMonth).
			Msg(ev.Message)
	}
}

// feedMonitor drives the monitor's projection from lifecycle events. The
// job is re-read from the store so the projection sees persisted state,
// not a stale copy riding on the event.
func feedMonitor(sub events.Subscriber, mon *monitor.Monitor, store storage.JobStore, logger zerolog.Logger) {
	for ev := range sub {
		job, err := store.GetJob(ev.JobID)
		if err != nil {
			logger.Warn().Err(err).Str("job_id", ev.JobID).Msg("Event for unknown job dropped")
			continue
		}

		switch ev.Type {
		case events.EventJobStarted:
			mon.RecordJobStart(job)
		case events.EventJobExtended:
			days, _ := strconv.Atoi(ev.Metadata["days"])
			mon.RecordJobExtension(ev.JobID, days)
		case events.EventJobFinalized:
			days, _ := strconv.Atoi(ev.Metadata["days_stable"])
			mon.RecordJobCompletion(job, days)
		case events.EventJobCancelled:
			mon.RecordJobCancellation(job)
		case events.EventJobFailed:
			mon.RecordJobFailure(job, ev.Message)
		}
	}
}

// maintenanceLoop prunes aged terminal jobs and stale monitor records once
// a day. The first sweep runs a minute after startup so a long-stopped
// daemon catches up without waiting a day.
func maintenanceLoop(ctx context.Context, store *storage.Manager, mon *monitor.Monitor, retention time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	sweep := func() {
		cutoff := time.Now().Add(-retention)
		removed, err := store.CleanupJobs(cutoff)
		if err != nil {
			logger.Error().Err(err).Msg("Job cleanup failed")
		} else if removed > 0 {
			logger.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("Aged jobs cleaned up")
		}
		if dropped := mon.CleanupOldMetrics(); dropped > 0 {
			logger.Info().Int("dropped", dropped).Msg("Stale monitor records dropped")
		}
	}

	select {
	case <-time.After(time.Minute):
		sweep()
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ticker.C:
			sweep()
		case <-ctx.Done():
			return
		}
	}
}
