package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// Cache is a read-through Redis cache in front of a Source. Published
// definitions are warmed at startup so that the attempt hot path never
// touches PostgreSQL for catalog data.
type Cache struct {
	source Source
	rdb    *redis.Client
	log    zerolog.Logger
}

// NewCache creates a new Cache.
func NewCache(source Source, rdb *redis.Client, log zerolog.Logger) *Cache {
	return &Cache{
		source: source,
		rdb:    rdb,
		log:    log.With().Str("component", "catalog_cache").Logger(),
	}
}

// Get returns the cached definition, loading and caching it on a miss.
// A Redis failure degrades to a direct source read.
func (c *Cache) Get(ctx context.Context, assessmentID string) (*model.AssessmentDefinition, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.DefinitionKey(assessmentID)).Bytes()
	switch {
	case err == nil:
		var def model.AssessmentDefinition
		if err := json.Unmarshal(data, &def); err == nil {
			return &def, nil
		}
		c.log.Warn().Str("assessment_id", assessmentID).Msg("Corrupt cached definition, reloading")
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn().Err(err).Str("assessment_id", assessmentID).Msg("Cache read failed, using source")
		return c.source.Get(ctx, assessmentID)
	}

	def, err := c.source.Get(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if err := c.Warm(ctx, def); err != nil {
		c.log.Warn().Err(err).Str("assessment_id", assessmentID).Msg("Failed to cache definition")
	}
	return def, nil
}

// Warm writes one definition to Redis.
func (c *Cache) Warm(ctx context.Context, def *model.AssessmentDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	if err := c.rdb.Set(ctx, config.CacheKey.DefinitionKey(def.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	c.log.Debug().
		Str("assessment_id", def.ID).
		Int("questions", len(def.Questions)).
		Msg("Cache warmed")
	return nil
}

// Refresh reloads one definition from the source into Redis.
func (c *Cache) Refresh(ctx context.Context, assessmentID string) (*model.AssessmentDefinition, error) {
	def, err := c.source.Get(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if err := c.Warm(ctx, def); err != nil {
		return nil, err
	}
	c.log.Info().Str("assessment_id", assessmentID).Msg("Cache refreshed")
	return def, nil
}

// Prewarm loads all published definitions into Redis on application startup.
func (c *Cache) Prewarm(ctx context.Context) error {
	defs, err := c.source.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published definitions: %w", err)
	}

	if len(defs) == 0 {
		c.log.Info().Msg("No published assessments to prewarm")
		return nil
	}

	c.log.Info().Int("count", len(defs)).Msg("Prewarming published assessments...")

	warmed := 0
	for i := range defs {
		if err := c.Warm(ctx, &defs[i]); err != nil {
			c.log.Warn().
				Err(err).
				Str("assessment_id", defs[i].ID).
				Msg("Failed to warm assessment, skipping")
			continue
		}
		warmed++
	}

	c.log.Info().
		Int("warmed", warmed).
		Int("total", len(defs)).
		Msg("Prewarming complete")
	return nil
}
