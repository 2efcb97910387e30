package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/config"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
)

// integrityCounterTTL outlives any attempt.
const integrityCounterTTL = 48 * time.Hour

// IntegrityQueue accepts integrity events for batched persistence.
type IntegrityQueue interface {
	Push(ctx context.Context, ev *model.IntegrityEvent) error
}

// IntegrityService counts client-reported integrity signals and abandons
// attempts that exceed their assessment's limit.
type IntegrityService struct {
	attempts  *AttemptService
	repo      repository.IntegrityRepository
	queue     IntegrityQueue
	rdb       *redis.Client
	publisher EventPublisher
	now       Clock
	log       zerolog.Logger
}

// NewIntegrityService creates a new IntegrityService.
func NewIntegrityService(
	attempts *AttemptService,
	repo repository.IntegrityRepository,
	queue IntegrityQueue,
	rdb *redis.Client,
	publisher EventPublisher,
	now Clock,
	log zerolog.Logger,
) *IntegrityService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &IntegrityService{
		attempts:  attempts,
		repo:      repo,
		queue:     queue,
		rdb:       rdb,
		publisher: publisher,
		now:       now,
		log:       log.With().Str("component", "integrity_service").Logger(),
	}
}

// ReportEvent records one integrity signal for a running attempt.
func (s *IntegrityService) ReportEvent(ctx context.Context, attemptID uuid.UUID, learnerID, kind string, payload json.RawMessage) (*model.IntegrityOutcome, error) {
	a, err := s.attempts.getAttempt(ctx, attemptID, learnerID)
	if err != nil {
		return nil, err
	}
	if a.State != model.AttemptStateInProgress {
		return nil, ErrAttemptNotInProgress
	}
	def, err := s.attempts.definition(ctx, a.AssessmentID)
	if err != nil {
		return nil, err
	}

	key := config.CacheKey.AttemptIntegrityCountKey(a.ID.String())
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, integrityCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("count integrity event: %w", err)
	}
	count := int(incr.Val())

	ev := &model.IntegrityEvent{
		AttemptID:    a.ID,
		AssessmentID: a.AssessmentID,
		LearnerID:    a.LearnerID,
		Kind:         kind,
		Payload:      payload,
		RecordedAt:   s.now(),
	}
	s.store(ctx, ev)

	flagged := model.NewAttemptEvent(model.EventIntegrityFlagged, a, ev.RecordedAt)
	flagged.Reason = kind
	if err := s.publisher.Publish(ctx, flagged); err != nil {
		s.log.Debug().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to publish integrity event")
	}

	out := &model.IntegrityOutcome{Violations: count, Limit: def.MaxIntegrityViolations}
	if def.MaxIntegrityViolations > 0 && count > def.MaxIntegrityViolations {
		// A submission that lands first keeps the attempt.
		abandoned, err := s.attempts.AbandonActiveAttempt(ctx, a.ID, ReasonIntegrityViolation)
		if err != nil {
			return nil, fmt.Errorf("abandon attempt: %w", err)
		}
		out.Abandoned = abandoned.State == model.AttemptStateAbandoned
		if !out.Abandoned {
			return out, nil
		}

		s.log.Warn().
			Str("attempt_id", a.ID.String()).
			Int("violations", count).
			Int("limit", def.MaxIntegrityViolations).
			Msg("Attempt abandoned for integrity violations")
	}
	return out, nil
}

func (s *IntegrityService) store(ctx context.Context, ev *model.IntegrityEvent) {
	if s.queue != nil {
		err := s.queue.Push(ctx, ev)
		if err == nil {
			return
		}
		s.log.Warn().Err(err).Str("attempt_id", ev.AttemptID.String()).Msg("Integrity queue unavailable, inserting directly")
	}
	if err := s.repo.Insert(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("attempt_id", ev.AttemptID.String()).Msg("Failed to store integrity event")
	}
}
