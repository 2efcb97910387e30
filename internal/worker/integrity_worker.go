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

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// requeueBackoff slows the loop down after pushing failed items back.
var requeueBackoff = 2 * time.Second

// IntegrityWorker drains the integrity queue into the integrity_events table.
type IntegrityWorker struct {
	repo      repository.IntegrityRepository
	rdb       *redis.Client
	batchSize int
	log       zerolog.Logger
}

func NewIntegrityWorker(repo repository.IntegrityRepository, rdb *redis.Client, batchSize int, log zerolog.Logger) *IntegrityWorker {
	if batchSize <= 0 {
		batchSize = BatchSize
	}
	return &IntegrityWorker{
		repo:      repo,
		rdb:       rdb,
		batchSize: batchSize,
		log:       log.With().Str("component", "integrity_worker").Logger(),
	}
}

func (w *IntegrityWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.batchSize).Msg("IntegrityWorker started")

	buffer := make([]*model.IntegrityEvent, 0, w.batchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 {
			if len(buffer) >= w.batchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.IntegrityQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var ev model.IntegrityEvent
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, &ev)
	}
}

// flushSafe attempts bulk insert, then row-by-row insert, then requeue.
func (w *IntegrityWorker) flushSafe(ctx context.Context, batch []*model.IntegrityEvent) {
	if len(batch) == 0 {
		return
	}
	if err := w.repo.InsertBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *IntegrityWorker) fallbackInsert(ctx context.Context, batch []*model.IntegrityEvent) {
	requeueList := make([]*model.IntegrityEvent, 0)
	for _, ev := range batch {
		if err := w.repo.Insert(ctx, ev); err != nil {
			w.log.Error().Err(err).Str("attempt_id", ev.AttemptID.String()).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, ev)
		}
	}
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *IntegrityWorker) requeue(ctx context.Context, items []*model.IntegrityEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.IntegrityQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue integrity events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	time.Sleep(requeueBackoff)
}

func (w *IntegrityWorker) shutdown(buffer []*model.IntegrityEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(shutdownCtx, buffer)
}
