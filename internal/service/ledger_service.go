package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
	"github.com/stemsi/exstem-attempt-engine/internal/scoring"
)

// LedgerService records learner responses on running attempts.
type LedgerService struct {
	attempts  repository.AttemptRepository
	responses repository.ResponseRepository
	catalog   catalog.Catalog
	publisher EventPublisher
	now       Clock
	log       zerolog.Logger
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	attempts repository.AttemptRepository,
	responses repository.ResponseRepository,
	cat catalog.Catalog,
	publisher EventPublisher,
	now Clock,
	log zerolog.Logger,
) *LedgerService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &LedgerService{
		attempts:  attempts,
		responses: responses,
		catalog:   cat,
		publisher: publisher,
		now:       now,
		log:       log.With().Str("component", "ledger_service").Logger(),
	}
}

// RecordResponse stores the latest answer to one question. The write is
// refused once the attempt has left IN_PROGRESS or its deadline has passed,
// even if the expiry timer has not fired yet.
func (s *LedgerService) RecordResponse(ctx context.Context, attemptID uuid.UUID, learnerID, questionID string, value json.RawMessage) (*model.Response, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if learnerID != "" && a.LearnerID != learnerID {
		return nil, ErrNotAttemptOwner
	}
	if a.State != model.AttemptStateInProgress {
		return nil, ErrAttemptNotInProgress
	}

	def, err := s.catalog.Get(ctx, a.AssessmentID)
	if errors.Is(err, catalog.ErrDefinitionNotFound) {
		return nil, ErrAssessmentNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	q, ok := def.Question(questionID)
	if !ok {
		return nil, ErrQuestionNotFound
	}
	if err := scoring.ValidateAnswer(q, value); err != nil {
		return nil, err
	}

	now := s.now()
	if a.DeadlineAt != nil && !now.Before(*a.DeadlineAt) {
		return nil, ErrAttemptNotInProgress
	}

	r := &model.Response{
		AttemptID:  a.ID,
		QuestionID: q.ID,
		Value:      value,
		AnsweredAt: now,
	}
	if err := s.responses.Upsert(ctx, r); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotInProgress):
			return nil, ErrAttemptNotInProgress
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("record response: %w", err)
	}

	ev := model.NewAttemptEvent(model.EventResponseRecorded, a, now)
	ev.QuestionID = q.ID
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Debug().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to publish response event")
	}
	return r, nil
}
