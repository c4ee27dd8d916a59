package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/dvloznov/ledger-sync/internal/audit"
	"github.com/dvloznov/ledger-sync/internal/logger"
)

func main() {
	var (
		projectID       = flag.String("project", os.Getenv("BIGQUERY_PROJECT"), "GCP project ID (or set BIGQUERY_PROJECT)")
		datasetID       = flag.String("dataset", envOr("BIGQUERY_DATASET", audit.DefaultDataset), "BigQuery dataset ID")
		credentialsFile = flag.String("credentials", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), "Service account key file")
		appliedBy       = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		list            = flag.Bool("list", false, "Print the bundled migrations and exit")
	)
	flag.Parse()

	log := logger.New()

	if *list {
		migrations, err := audit.Migrations(*projectID, *datasetID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read bundled migrations")
		}
		for _, m := range migrations {
			log.Info().Int("version", m.Version).Str("name", m.Name).Str("checksum", m.Checksum[:12]).Msg("Migration")
		}
		return
	}

	if *projectID == "" {
		log.Fatal().Msg("-project is required (or set BIGQUERY_PROJECT)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	migrator, err := audit.NewMigrator(ctx, *projectID, *datasetID, *credentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer migrator.Close()
	migrator.AppliedBy = *appliedBy

	applied, err := migrator.Migrate(ctx)
	if err != nil {
		log.Fatal().Err(err).Int("applied", applied).Msg("Migration failed")
	}

	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Audit dataset is up to date.")
		return
	}
	log.Info().Int("applied", applied).Msg("Successfully applied migrations")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
