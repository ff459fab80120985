package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ghosttext/ghosttext/internal/config"
	"github.com/ghosttext/ghosttext/internal/ops"
	"github.com/ghosttext/ghosttext/internal/store"
	"github.com/ghosttext/ghosttext/internal/sweeper"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the shared store
	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	st, err := store.NewRedisStore(ctx, redisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer st.Close()
	logger.Info().Msg("connected to Redis")

	// Optional channel registry
	var registry store.Registry
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresRegistry(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pg.Close()
		registry = pg
		logger.Info().Msg("connected to PostgreSQL registry")
	} else if cfg.SQLitePath != "" {
		lite, err := store.NewSQLiteRegistry(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite registry failed")
		}
		defer lite.Close()
		registry = lite
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite registry")
	}

	// Start the expiry sweeper
	sw := sweeper.New(st,
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithPresenceTTL(cfg.PresenceTTL),
		sweeper.WithLogger(logger))
	go sw.Run(ctx)

	// Ops server: metrics, health, status
	router := ops.NewRouter(logger, ops.Deps{Store: st, Registry: registry, Sweeper: sw})
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Dur("interval", cfg.SweepInterval).
			Msg("starting expiry sweeper")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("ops server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down sweeper...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("ops server forced to shutdown")
	}

	logger.Info().Msg("sweeper stopped")
}
