package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Varsh1009/dnate-question-bot-backend/internal/api"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/config"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/core"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/observability"
	"github.com/Varsh1009/dnate-question-bot-backend/internal/store"
)

func newServeCmd() *cobra.Command {
	var inMemory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), inMemory)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "keep sessions in memory and load personas from PERSONA_CATALOG")
	return cmd
}

type backingStore interface {
	store.SessionStore
	store.PersonaStore
}

func runServe(ctx context.Context, inMemory bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := observability.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	var (
		backing backingStore
		pinger  api.Pinger
	)
	if inMemory {
		mem := store.NewMemoryStore()
		if cfg.PersonaCatalogPath == "" {
			return fmt.Errorf("--in-memory needs PERSONA_CATALOG to point at a persona catalog")
		}
		catalog, err := store.LoadPersonaCatalog(cfg.PersonaCatalogPath)
		if err != nil {
			return err
		}
		catalog.LoadInto(mem)
		logger.Info("using in-memory store", "personas", len(catalog.Personas))
		backing = mem
	} else {
		dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		defer dbStore.Close()

		if cfg.PersonaCatalogPath != "" {
			if _, err := dbStore.IngestPersonasFromFile(ctx, cfg.PersonaCatalogPath); err != nil {
				return fmt.Errorf("loading persona catalog: %w", err)
			}
		}
		backing = dbStore
		pinger = dbStore
	}

	gateway, err := core.NewGateway(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing generation backend: %w", err)
	}
	defer gateway.Close()

	svc := core.NewSessionService(backing, backing, gateway, core.ServiceOptions{
		Composer:   core.NewPromptComposer(cfg.CallerLabel),
		Sampling:   core.SamplingConfig{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature},
		RetryLimit: cfg.StoreRetryLimit,
	})

	apiHandler := api.NewAPIHandler(svc, api.HandlerOptions{
		JWTSecret:     cfg.JWTSecret,
		HideForbidden: cfg.HideForbidden,
		Pinger:        pinger,
	})
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", serverAddr, "backend", cfg.GenerationBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
		}
	case <-quit:
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited gracefully")
	return nil
}
