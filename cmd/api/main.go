package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NutriPlan/internal/completion"
	"NutriPlan/internal/config"
	"NutriPlan/internal/database"
	"NutriPlan/internal/memory"
	"NutriPlan/internal/planner"
	"NutriPlan/internal/prompt"
	"NutriPlan/internal/server"
	"NutriPlan/internal/transcript"
	"NutriPlan/internal/utility"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func setupLogger(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(cfg.LogLevel)
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	zerolog.DefaultContextLogger = &log.Logger
}

func gracefulShutdown(ctx context.Context, apiServer *http.Server) error {
	// Wait for the interrupt signal.
	<-ctx.Done()

	log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

	// The server has 5 seconds to finish the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	utility.CloseAll()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	log.Info().Msg("Server exiting")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (transcript.Store, func(), error) {
	if cfg.TranscriptBackend != config.TranscriptPostgres {
		return transcript.NewFileStore(cfg.TranscriptPath), func() {}, nil
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store, err := transcript.NewPostgresStore(ctx, db, cfg.SessionName)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogger(cfg)

	variant, err := prompt.Lookup(cfg.PromptVariant)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown prompt variant")
	}

	client, err := completion.New(cfg.CompletionOptions())
	if err != nil {
		log.Fatal().Err(err).Msg("Could not build completion backend")
	}

	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open transcript store")
	}
	defer closeStore()

	pipeline := planner.New(variant, memory.New(), client, planner.Settings{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}, planner.WithHistoryRenderer(memory.NewRenderer(cfg.MemoryWindow)))

	apiServer := server.NewServer(server.Deps{
		Port:              cfg.Port,
		Pipeline:          pipeline,
		Store:             store,
		RateLimit:         cfg.RateLimit,
		CompletionTimeout: cfg.Timeout,
	})

	log.Info().
		Str("addr", apiServer.Addr).
		Str("variant", variant.Name).
		Str("backend", cfg.Backend).
		Str("transcript", cfg.TranscriptBackend).
		Msg("Starting nutrition planner")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return gracefulShutdown(gctx, apiServer)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("http server error")
		closeStore()
		os.Exit(1)
	}
	log.Info().Msg("Graceful shutdown complete.")
}
