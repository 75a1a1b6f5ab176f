// Package main implements the operator CLI for driftguard.
// This file runs the long-lived governance daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"driftguard/internal/drift"
	"driftguard/internal/events"
	"driftguard/internal/featureset"
	"driftguard/internal/metrics"
	"driftguard/internal/monitor"
	"driftguard/internal/orchestrator"
	"driftguard/internal/refstore"
)

// daemonCmd runs the governance loop
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the monitoring, retraining, and promotion loop",
	Long: `Runs driftguard as a long-lived process:

  - a monitoring worker ticks on the configured interval, compares the
    prediction window against the reference baseline, and publishes
    drift alerts,
  - a retraining scheduler reacts to drift alerts and the wall-clock
    schedule, trains shadow models, and asks the promotion gate for a
    verdict,
  - a janitor archives Staging versions past their TTL,
  - Prometheus metrics are served on the configured address.

SIGINT or SIGTERM drains the workers and exits cleanly. A reference
baseline integrity violation stops the daemon with exit code 3: nothing
may keep running against a baseline that fails its digest check.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.refs.Exists() {
		return preconditionErr(fmt.Errorf("reference baseline not found in %s (run bootstrap-reference first)", a.refs.Dir()))
	}
	if err := a.refs.Verify(); err != nil {
		return invariantErr(err)
	}

	bus := events.NewBus(logger)
	defer bus.Close()
	set := metrics.NewSet()
	schema := featureset.CreditRisk()

	engine := monitor.NewEngine(monitor.Config{
		ModelName:  cfg.Model.Name,
		Lookback:   cfg.MonitoringLookback(),
		MinSamples: cfg.Monitoring.MinSamples,
	}, monitor.Deps{
		Store:     a.store,
		Baselines: a.refs,
		Detector: drift.New(schema, drift.Config{
			PThreshold:        cfg.Drift.PThreshold,
			EffectSizeFloor:   cfg.Drift.EffectSizeFloor,
			DatasetThreshold:  cfg.Drift.DatasetThreshold,
			MinFeatureSamples: cfg.Drift.MinFeatureSamples,
		}, logger),
		Artifacts: a.arts,
		Bus:       bus,
		Metrics:   set,
		Logger:    logger,
	})
	worker := monitor.NewWorker(engine, cfg.MonitoringInterval(), logger)

	orc, err := buildOrchestrator(a, bus, set)
	if err != nil {
		return err
	}
	sched := orchestrator.NewScheduler(orchestrator.SchedulerConfig{
		Orchestrator:  orc,
		Store:         a.store,
		Bus:           bus,
		TrainInterval: cfg.TrainingInterval(),
		StagingTTL:    cfg.StagingTTL(),
		Logger:        logger,
	})

	// On-disk tampering of the baseline is as fatal as a digest mismatch
	// found during a tick.
	violations := make(chan error, 1)
	watcher, err := refstore.NewWatcher(a.refs, func(err error) {
		select {
		case violations <- err:
		default:
		}
	}, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", set.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker.Start()
	sched.Start()
	if err := watcher.Start(); err != nil {
		sched.Stop()
		worker.Stop()
		return err
	}

	logger.Info("daemon started",
		zap.String("model", cfg.Model.Name),
		zap.String("metrics_addr", cfg.Server.MetricsAddr))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case err := <-worker.Fatal():
			return invariantErr(err)
		case err := <-violations:
			return invariantErr(err)
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	watcher.Stop()
	sched.Stop()
	worker.Stop()
	logger.Info("daemon stopped")
	return err
}
