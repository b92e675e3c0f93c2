package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rjlee/actual-landg-pension/internal/api"
	"github.com/rjlee/actual-landg-pension/internal/api/handlers"
	"github.com/rjlee/actual-landg-pension/internal/api/middleware"
	"github.com/rjlee/actual-landg-pension/internal/app"
	"github.com/rjlee/actual-landg-pension/internal/config"
	"github.com/rjlee/actual-landg-pension/internal/jobs/inmemory"
	"github.com/rjlee/actual-landg-pension/internal/logger"
	"github.com/rjlee/actual-landg-pension/internal/schedule"
)

func main() {
	// Parse command-line flags
	var (
		configDir = flag.String("config", ".", "Directory holding config.yaml and .env")
		port      = flag.Int("port", 0, "HTTP server port (defaults to HTTP_PORT)")
		cronSpec  = flag.String("schedule", "", "Also run syncs on this cron expression; \"default\" uses SYNC_CRON")
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
	if *port == 0 {
		*port = cfg.HTTPPort
	}

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise")
	}
	defer a.Close()

	if err := cfg.RequireCredentials(); err != nil {
		log.Warn().Err(err).Msg("Portal credentials are not configured; login and sync will fail")
	}

	// Initialize job infrastructure. One worker keeps login attempts and
	// passes strictly sequential.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(10, 1, jobStore)

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Msg("Starting job worker")
	if err := jobQueue.Start(workerCtx, a.Runner.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	var scheduler *schedule.Scheduler
	if *cronSpec != "" {
		if *cronSpec == "default" {
			*cronSpec = cfg.SyncCron
		}
		scheduler, err = schedule.New(workerCtx, *cronSpec, jobQueue, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create scheduler")
		}
		scheduler.Start()
	}

	var sessions *middleware.Sessions
	if cfg.UIAuthActive() {
		sessions = middleware.NewSessions(cfg.Actual.Password, cfg.AuthCookieName, middleware.DefaultSessionTTL)
	} else {
		log.Warn().Msg("UI authentication disabled")
	}

	// Initialize handlers
	dataHandler := handlers.NewDataHandler(a.Gateway, a.Store, a.Coordinator, log)
	go func() {
		if err := dataHandler.Probe(workerCtx); err != nil {
			log.Error().Err(err).Msg("Initial budget load failed; web UI will retry on /api/data")
			return
		}
		log.Info().Msg("Initial budget load complete; web UI is ready")
	}()

	router := api.NewRouter(api.Handlers{
		Pages:   handlers.NewPagesHandler(sessions, a.Coordinator, dataHandler.Ready, log),
		Landg:   handlers.NewLandgHandler(a.Coordinator, jobQueue, log),
		Data:    dataHandler,
		Sync:    handlers.NewSyncHandler(a.Engine, log),
		Jobs:    handlers.NewJobsHandler(jobStore, log),
		History: handlers.NewHistoryHandler(a.History, log),
	}, sessions, log)

	// A synchronous sync may wait for a 2FA code, so writes get a long limit.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		var err error
		if cfg.SSLKey != "" && cfg.SSLCert != "" {
			log.Info().Int("port", *port).Msg("Starting HTTPS server")
			err = server.ListenAndServeTLS(cfg.SSLCert, cfg.SSLKey)
		} else {
			log.Info().Int("port", *port).Msg("Starting HTTP server")
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping scheduler")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Cancel worker context
	cancelWorker()

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
