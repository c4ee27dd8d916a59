package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/ledger-sync/internal/app"
	"github.com/dvloznov/ledger-sync/internal/config"
	"github.com/dvloznov/ledger-sync/internal/jobs"
	"github.com/dvloznov/ledger-sync/internal/jobs/inmemory"
	"github.com/dvloznov/ledger-sync/internal/logger"

	_ "time/tzdata"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("LEDGER_SYNC_CONFIG"), "Path to a YAML config file (or set LEDGER_SYNC_CONFIG)")
		refresh    = flag.Bool("refresh", true, "Refresh account directories before the first sync")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(false); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.SyncInterval <= 0 {
		log.Fatal().Msg("SYNC_INTERVAL must be set for the worker")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.Build(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build sync engine")
	}
	defer a.Close()

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(10, jobStore)

	if err := jobQueue.Start(ctx, a.JobHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	// Jobs run in publish order on the single worker, so the refresh lands
	// before the first sync.
	if *refresh {
		if err := jobQueue.PublishSync(ctx, &jobs.SyncJob{Type: jobs.JobTypeRefreshDirectory, Trigger: jobs.TriggerSchedule}); err != nil {
			log.Fatal().Err(err).Msg("Failed to queue directory refresh")
		}
	}

	scheduler := &jobs.Scheduler{Publisher: jobQueue, Interval: cfg.SyncInterval, RunImmediately: true}
	go scheduler.Run(ctx)

	log.Info().Dur("interval", cfg.SyncInterval).Msg("Worker service started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop the scheduler and workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
