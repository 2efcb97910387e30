// Command attemptctl performs operator tasks against the attempt engine:
// issuing test tokens, loading the assessment catalog, forcing an expiry
// sweep and exporting analytics workbooks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-attempt-engine/internal/app"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/database"
	"github.com/stemsi/exstem-attempt-engine/internal/logger"
)

// commandTimeout bounds commands that talk to storage.
const commandTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:           "attemptctl",
	Short:         "Operate the assessment attempt engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// engine is a fully wired App without the HTTP server or background loops.
type engine struct {
	*app.App
	rdb *redis.Client
	log zerolog.Logger
}

func openEngine(ctx context.Context) (*engine, error) {
	cfg := config.Load()
	log := logger.SetupCLI("attemptctl", cfg.LogLevel, cfg.LogFormat)

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		stores.Close()
		return nil, err
	}
	a, err := app.Build(cfg, log, rdb, stores)
	if err != nil {
		rdb.Close()
		stores.Close()
		return nil, err
	}
	return &engine{App: a, rdb: rdb, log: log}, nil
}

func (e *engine) Close() {
	e.App.Close()
	e.rdb.Close()
}
