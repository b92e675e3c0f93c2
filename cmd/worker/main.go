package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjlee/actual-landg-pension/internal/app"
	"github.com/rjlee/actual-landg-pension/internal/config"
	"github.com/rjlee/actual-landg-pension/internal/jobs/inmemory"
	"github.com/rjlee/actual-landg-pension/internal/logger"
	"github.com/rjlee/actual-landg-pension/internal/schedule"
)

func main() {
	var (
		configDir = flag.String("config", ".", "Directory holding config.yaml and .env")
		cronSpec  = flag.String("schedule", "", "Cron expression for syncs (defaults to SYNC_CRON)")
		runNow    = flag.Bool("now", false, "Run one sync immediately on start")
		verbose   = flag.Bool("verbose", false, "Enable debug logging")
		debug     = flag.Bool("debug", false, "Show the browser window during login")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	cfg.Landg.Headful = *debug
	log = logger.WithLevel(log, cfg.LogLevel, *verbose)

	if err := cfg.RequireCredentials(); err != nil {
		log.Fatal().Err(err).Msg("Portal credentials are not configured")
	}
	if *cronSpec == "" {
		*cronSpec = cfg.SyncCron
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise")
	}
	defer a.Close()

	// One worker keeps passes strictly sequential.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(10, 1, jobStore)

	log.Info().Str("mapping", a.Store.Location()).Msg("Starting worker service")

	if err := jobQueue.Start(ctx, a.Runner.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	scheduler, err := schedule.New(ctx, *cronSpec, jobQueue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	scheduler.Start()

	if *runNow {
		scheduler.RunNow()
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping scheduler")
	}

	// Cancel context to stop workers
	cancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}
