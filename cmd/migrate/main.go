package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/rjlee/actual-landg-pension/internal/config"
	"github.com/rjlee/actual-landg-pension/internal/history"
	"github.com/rjlee/actual-landg-pension/internal/logger"
)

// migrate creates the BigQuery dataset and sync history table.
func main() {
	var (
		configDir = flag.String("config", ".", "Directory holding config.yaml and .env")
		projectID = flag.String("project", "", "GCP project ID (defaults to GCP_PROJECT)")
		location  = flag.String("location", "EU", "Dataset location used when creating it")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log = logger.WithLevel(log, cfg.LogLevel, false)
	if *projectID == "" {
		*projectID = cfg.GCPProject
	}
	if *projectID == "" {
		log.Fatal().Msg("Error: -project flag or GCP_PROJECT is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	recorder, err := history.NewBigQueryRecorder(ctx, *projectID, cfg.HistoryDataset, cfg.HistoryTable)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer recorder.Close()

	table := fmt.Sprintf("%s.%s.%s", *projectID, cfg.HistoryDataset, cfg.HistoryTable)
	created, err := recorder.EnsureTable(ctx, *location)
	if err != nil {
		log.Fatal().Err(err).Str("table", table).Msg("Migration failed")
	}

	if created {
		log.Info().Str("table", table).Msg("Created history table")
	} else {
		log.Info().Str("table", table).Msg("History table already exists")
	}
}
