package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/app"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/database"
	"github.com/stemsi/exstem-attempt-engine/internal/logger"
	"github.com/stemsi/exstem-attempt-engine/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("storage", cfg.StorageDriver).
		Str("events", cfg.EventsDriver).
		Str("auth", cfg.AuthProvider).
		Msg("Starting attempt engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Open Storage ──────────────────────────────────────────────────
	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Wire Services, Scheduler and Router ───────────────────────────
	engine, err := app.Build(cfg, log, rdb, stores)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build engine")
	}
	defer engine.Close()

	// ─── Start Background Workers ─────────────────────────────────────
	// Workers outlive the HTTP server so requests drained during shutdown
	// can still enqueue analytics and integrity events.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	if err := engine.Start(workerCtx, &wg); err != nil {
		workerCancel()
		log.Fatal().Err(err).Msg("Failed to start background workers")
	}

	// ─── Serve Until Signalled ─────────────────────────────────────────
	if err := engine.Serve(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server error")
	}

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	log.Info().Msg("Shutting down gracefully...")
	workerCancel()
	wg.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
