package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// Clock returns the current time. Tests replace it to drive deadlines.
type Clock func() time.Time

// ExpiryTimer is the part of the expiry scheduler the lifecycle needs.
type ExpiryTimer interface {
	Schedule(attemptID uuid.UUID, at time.Time)
	Cancel(attemptID uuid.UUID)
}

// EventPublisher receives every observable attempt change.
type EventPublisher interface {
	Publish(ctx context.Context, ev *model.AttemptEvent) error
}

// AnalyticsQueue accepts analytics increments for asynchronous application.
type AnalyticsQueue interface {
	Push(ctx context.Context, ev *model.AnalyticsEvent) error
}

type nopTimer struct{}

func (nopTimer) Schedule(uuid.UUID, time.Time) {}
func (nopTimer) Cancel(uuid.UUID)             {}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *model.AttemptEvent) error { return nil }
