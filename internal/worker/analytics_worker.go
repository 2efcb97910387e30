package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
)

// AnalyticsWorker applies queued analytics increments in batches. Each
// increment carries its attempt and kind, so the repository skips any that
// were already applied and a requeue never double counts.
type AnalyticsWorker struct {
	repo      repository.AnalyticsRepository
	rdb       *redis.Client
	batchSize int
	log       zerolog.Logger
}

func NewAnalyticsWorker(repo repository.AnalyticsRepository, rdb *redis.Client, batchSize int, log zerolog.Logger) *AnalyticsWorker {
	if batchSize <= 0 {
		batchSize = BatchSize
	}
	return &AnalyticsWorker{
		repo:      repo,
		rdb:       rdb,
		batchSize: batchSize,
		log:       log.With().Str("component", "analytics_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

func (w *AnalyticsWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Msg("AnalyticsWorker started")

	batch := make([]*model.AnalyticsEvent, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= BatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flushSafe(shutdownCtx, batch)
			cancel()
			return

		default:
			item, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.AnalyticsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
					time.Sleep(time.Second)
				}
				continue
			}
			if len(item) < 2 {
				continue
			}

			var ev model.AnalyticsEvent
			if err := json.Unmarshal([]byte(item[1]), &ev); err != nil {
				w.log.Error().Err(err).Str("data", item[1]).Msg("Discarding malformed analytics event")
				continue
			}
			if ev.Kind != model.AnalyticsEventGraded && ev.Kind != model.AnalyticsEventClosed {
				w.log.Error().Str("kind", string(ev.Kind)).Msg("Discarding analytics event of unknown kind")
				continue
			}
			batch = append(batch, &ev)
		}
	}
}

// ----------------------------------------------------------------
// Safe flush: batch, then per item, then requeue
// ----------------------------------------------------------------

func (w *AnalyticsWorker) flushSafe(ctx context.Context, batch []*model.AnalyticsEvent) {
	if len(batch) == 0 {
		return
	}
	err := w.repo.ApplyBatch(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Analytics batch applied")
		return
	}

	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Batch apply failed, applying one by one")

	var failed []*model.AnalyticsEvent
	for _, ev := range batch {
		if _, err := w.repo.Apply(ctx, ev); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", ev.AttemptID.String()).
				Str("kind", string(ev.Kind)).
				Msg("Apply failed, requeueing")
			failed = append(failed, ev)
		}
	}
	if len(failed) > 0 {
		w.requeue(ctx, failed)
	}
}

func (w *AnalyticsWorker) requeue(ctx context.Context, items []*model.AnalyticsEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.AnalyticsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue analytics events")
		return
	}
	time.Sleep(requeueBackoff)
}
