package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/config"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/observability"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/store"
)

func newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <personas.yaml>",
		Short: "Load a persona catalog into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger := observability.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)

			dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			defer dbStore.Close()

			n, err := dbStore.IngestPersonasFromFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("persona ingestion failed: %w", err)
			}
			logger.Info("persona ingestion complete", "personas", n, "database", cfg.DatabaseURL)
			return nil
		},
	}
}
