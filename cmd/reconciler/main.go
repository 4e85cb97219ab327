package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smukkama/calmcorners/internal/app"
	"github.com/smukkama/calmcorners/internal/catalog"
	"github.com/smukkama/calmcorners/internal/logging"
	"github.com/smukkama/calmcorners/internal/reconcile"
	"github.com/smukkama/calmcorners/internal/timer"
	"github.com/smukkama/calmcorners/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if cfg.Store.Backend == config.BackendMemory {
		logging.Fatal().Msg("the reconciler needs a shared store, set STORE_BACKEND to postgres or mongo")
	}

	logging.Info().Str("backend", cfg.Store.Backend).Dur("interval", cfg.Reconcile.Interval).Msg("starting aggregate reconciler")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startupCtx, cancelStartup := context.WithTimeout(ctx, 30*time.Second)
	store, err := app.OpenStore(startupCtx, cfg)
	cancelStartup()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	reconciler := reconcile.New(catalog.NewService(store), cfg.Reconcile.Interval)

	// Repair anything that drifted while we were down
	_, _ = reconciler.RunOnce(ctx)

	scheduler := timer.NewScheduler(1)
	scheduler.Start()

	if err := reconciler.Schedule(ctx, scheduler); err != nil {
		logging.Fatal().Err(err).Msg("failed to schedule reconciliation")
	}
	if next, ok := reconciler.NextRun(scheduler); ok {
		logging.Info().Time("next_run", next).Msg("reconciler is running")
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Cancel first so a reconciliation in flight returns before the
	// scheduler waits for its workers.
	stats := scheduler.Stats()
	logging.Info().Int("running", stats.Running).Int("pending", stats.Pending).Msg("shutting down gracefully")
	reconciler.Unschedule(scheduler)
	cancel()
	scheduler.Stop()
}
