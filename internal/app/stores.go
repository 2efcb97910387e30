package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/database"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
	"github.com/stemsi/exstem-attempt-engine/internal/repository/memory"
)

// Stores bundles the repositories of the selected storage driver.
type Stores struct {
	Attempts  repository.AttemptRepository
	Responses repository.ResponseRepository
	Grades    repository.GradeRepository
	Analytics repository.AnalyticsRepository
	Integrity repository.IntegrityRepository
	Source    catalog.Source

	pool *pgxpool.Pool
}

// OpenStores connects the storage backend named by cfg.StorageDriver.
func OpenStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Stores, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Attempts:  repository.NewAttemptRepository(pool),
			Responses: repository.NewResponseRepository(pool),
			Grades:    repository.NewGradeRepository(pool),
			Analytics: repository.NewAnalyticsRepository(pool),
			Integrity: repository.NewIntegrityRepository(pool),
			Source:    catalog.NewPgSource(pool),
			pool:      pool,
		}, nil

	case config.StorageDriverMemory:
		source := catalog.NewMemorySource()
		if cfg.CatalogFile != "" {
			loaded, err := catalog.LoadFile(cfg.CatalogFile)
			if err != nil {
				return nil, fmt.Errorf("load catalog file: %w", err)
			}
			source = loaded
		}
		log.Warn().Msg("Using in-memory storage; attempts are lost on restart")
		return MemoryStores(memory.NewStore(), source), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// MemoryStores serves every repository from one in-process store.
func MemoryStores(store *memory.Store, source catalog.Source) *Stores {
	return &Stores{
		Attempts:  store,
		Responses: store,
		Grades:    store,
		Analytics: store,
		Integrity: store,
		Source:    source,
	}
}

// Close releases the database pool, if any.
func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
