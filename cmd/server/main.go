package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dvloznov/ledger-sync/internal/api/handlers"
	"github.com/dvloznov/ledger-sync/internal/api/middleware"
	"github.com/dvloznov/ledger-sync/internal/app"
	"github.com/dvloznov/ledger-sync/internal/config"
	"github.com/dvloznov/ledger-sync/internal/jobs"
	"github.com/dvloznov/ledger-sync/internal/jobs/inmemory"
	"github.com/dvloznov/ledger-sync/internal/logger"
	"github.com/dvloznov/ledger-sync/internal/metrics"

	_ "time/tzdata"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("LEDGER_SYNC_CONFIG"), "Path to a YAML config file (or set LEDGER_SYNC_CONFIG)")
		port       = flag.String("port", "", "HTTP server port (overrides PORT)")
		dryRun     = flag.Bool("dry-run", false, "Keep backend writes in memory and never save state")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if err := cfg.Validate(true); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx := logger.WithContext(context.Background(), log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheusCollector("ledger_sync")
	if err := collector.Register(registry); err != nil {
		log.Fatal().Err(err).Msg("Failed to register metrics")
	}

	a, err := app.Build(ctx, cfg, log, app.Options{DryRun: *dryRun, Metrics: collector})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build sync engine")
	}
	defer a.Close()

	ingress, err := a.Ingress()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load webhook public key")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, a.JobHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	scheduler := &jobs.Scheduler{Publisher: jobQueue, Interval: cfg.SyncInterval}
	go scheduler.Run(workerCtx)

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(ingress)
	syncHandler := handlers.NewSyncHandler(a.Engine)
	jobsHandler := handlers.NewJobsHandler(jobStore, jobQueue)

	// Create router
	router := mux.NewRouter()
	router.Use(middleware.Metrics(collector))

	router.HandleFunc("/receive-transaction", webhookHandler.Receive).Methods(http.MethodPost)
	router.HandleFunc("/status", handlers.Status).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	protected := router.NewRoute().Subrouter()
	protected.Use(middleware.Auth(cfg.Server.SyncToken))
	protected.HandleFunc("/sync", syncHandler.Sync).Methods(http.MethodGet)
	protected.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	protected.HandleFunc("/jobs", jobsHandler.CreateJob).Methods(http.MethodPost)
	protected.HandleFunc("/jobs/{id}", jobsHandler.GetJob).Methods(http.MethodGet)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(router),
		),
	)

	// A full sync can outlast the usual write timeout.
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Dur("sync_interval", cfg.SyncInterval).Msg("Starting webhook server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Stop scheduling new jobs
	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
