package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// AnalyticsQueue pushes analytics increments for the AnalyticsWorker.
type AnalyticsQueue struct {
	rdb *redis.Client
}

func NewAnalyticsQueue(rdb *redis.Client) *AnalyticsQueue {
	return &AnalyticsQueue{rdb: rdb}
}

func (q *AnalyticsQueue) Push(ctx context.Context, ev *model.AnalyticsEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal analytics event: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.AnalyticsQueue, data).Err()
}

// IntegrityQueue pushes integrity events for the IntegrityWorker.
type IntegrityQueue struct {
	rdb *redis.Client
}

func NewIntegrityQueue(rdb *redis.Client) *IntegrityQueue {
	return &IntegrityQueue{rdb: rdb}
}

func (q *IntegrityQueue) Push(ctx context.Context, ev *model.IntegrityEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal integrity event: %w", err)
	}
	return q.rdb.RPush(ctx, config.WorkerKey.IntegrityQueue, data).Err()
}
