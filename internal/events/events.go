// Package events fans attempt events out to live monitors and to the
// reporting bus.
package events

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// Publisher receives attempt events.
type Publisher interface {
	Publish(ctx context.Context, ev *model.AttemptEvent) error
}

// Multi publishes to every wrapped publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev *model.AttemptEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, *model.AttemptEvent) error { return nil }
