package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
	"github.com/stemsi/exstem-attempt-engine/internal/scoring"
	"golang.org/x/crypto/bcrypt"
)

// Closing reasons recorded on attempts.
const (
	ReasonSubmitted          = "submitted"
	ReasonTimeExpired        = "time_expired"
	ReasonAbandoned          = "abandoned"
	ReasonIntegrityViolation = "integrity_violation"
	ReasonStartFailed        = "start_failed"
)

// staleCreatedAfter is how long an attempt may sit in CREATED before a new
// start by the same learner takes it over. Starts finish within one request.
const staleCreatedAfter = time.Minute

// AttemptView is the learner-facing state of an attempt.
type AttemptView struct {
	Attempt          *model.Attempt   `json:"attempt"`
	RemainingSeconds *int             `json:"remaining_seconds"`
	Responses        []model.Response `json:"responses"`
}

// SubmitResult is returned by SubmitAttempt. Repeated submissions of the
// same attempt return the same result.
type SubmitResult struct {
	Attempt          *model.Attempt `json:"attempt"`
	ProvisionalScore float64        `json:"provisional_score"`
	PendingManual    bool           `json:"pending_manual"`
	PendingQuestions []string       `json:"pending_questions,omitempty"`
}

// AttemptService owns the attempt state machine.
type AttemptService struct {
	attempts  repository.AttemptRepository
	responses repository.ResponseRepository
	catalog   catalog.Catalog
	grading   *GradingService
	analytics *AnalyticsService
	timer     ExpiryTimer
	publisher EventPublisher
	now       Clock
	log       zerolog.Logger
}

// NewAttemptService creates a new AttemptService. A nil timer or publisher
// is replaced by a no-op.
func NewAttemptService(
	attempts repository.AttemptRepository,
	responses repository.ResponseRepository,
	cat catalog.Catalog,
	grading *GradingService,
	analytics *AnalyticsService,
	timer ExpiryTimer,
	publisher EventPublisher,
	now Clock,
	log zerolog.Logger,
) *AttemptService {
	if timer == nil {
		timer = nopTimer{}
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &AttemptService{
		attempts:  attempts,
		responses: responses,
		catalog:   cat,
		grading:   grading,
		analytics: analytics,
		timer:     timer,
		publisher: publisher,
		now:       now,
		log:       log.With().Str("component", "attempt_service").Logger(),
	}
}

// SetTimer replaces the expiry timer. The scheduler needs the service as
// its expirer, so the two are wired after construction.
func (s *AttemptService) SetTimer(timer ExpiryTimer) {
	s.timer = timer
}

func (s *AttemptService) getAttempt(ctx context.Context, id uuid.UUID, learnerID string) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if learnerID != "" && a.LearnerID != learnerID {
		return nil, ErrNotAttemptOwner
	}
	return a, nil
}

func (s *AttemptService) definition(ctx context.Context, assessmentID string) (*model.AssessmentDefinition, error) {
	def, err := s.catalog.Get(ctx, assessmentID)
	if errors.Is(err, catalog.ErrDefinitionNotFound) {
		return nil, ErrAssessmentNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	return def, nil
}

func (s *AttemptService) publish(ctx context.Context, t model.AttemptEventType, a *model.Attempt) {
	if err := s.publisher.Publish(ctx, model.NewAttemptEvent(t, a, s.now())); err != nil {
		s.log.Warn().Err(err).
			Str("attempt_id", a.ID.String()).
			Str("event", string(t)).
			Msg("Failed to publish attempt event")
	}
}

// expiresAt is the instant after which an attempt is expired rather than
// submitted. It is nil for untimed attempts.
func expiresAt(a *model.Attempt, def *model.AssessmentDefinition) *time.Time {
	if a.DeadlineAt == nil {
		return nil
	}
	at := a.DeadlineAt.Add(def.SubmitGrace())
	return &at
}

// StartAttempt creates an attempt and moves it to IN_PROGRESS. The deadline
// is fixed here and never changes afterwards.
func (s *AttemptService) StartAttempt(ctx context.Context, learnerID, assessmentID, entryCode string) (*model.Attempt, error) {
	def, err := s.definition(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !def.IsOpen(now) {
		return nil, ErrAssessmentNotAvailable
	}
	if def.EntryCodeHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(def.EntryCodeHash), []byte(entryCode)); err != nil {
			return nil, ErrInvalidEntryCode
		}
	}

	order := def.QuestionIDs()
	if def.Randomize {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	a := &model.Attempt{
		ID:            uuid.New(),
		AssessmentID:  def.ID,
		LearnerID:     learnerID,
		QuestionOrder: order,
		CreatedAt:     now,
	}
	adopted := false
	if err := s.attempts.Create(ctx, a, def.MaxAttempts); err != nil {
		if !errors.Is(err, repository.ErrAttemptLimitReached) && !errors.Is(err, repository.ErrActiveAttemptExists) {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
		orphan, ferr := s.staleCreated(ctx, learnerID, def.ID, now)
		if ferr != nil {
			return nil, ferr
		}
		switch {
		case orphan != nil:
			a, adopted = orphan, true
			s.log.Warn().
				Str("attempt_id", a.ID.String()).
				Time("created_at", a.CreatedAt).
				Msg("Resuming start of stale attempt")
		case errors.Is(err, repository.ErrAttemptLimitReached):
			return nil, ErrAttemptLimitExceeded
		default:
			return nil, ErrAttemptAlreadyActive
		}
	}

	var deadline *time.Time
	if def.IsTimed() {
		d := now.Add(def.TimeLimit())
		deadline = &d
	}

	started, err := s.attempts.Transition(ctx, repository.Transition{
		ID:              a.ID,
		ExpectedVersion: a.Version,
		To:              model.AttemptStateInProgress,
		At:              now,
		DeadlineAt:      deadline,
	})
	if adopted && errors.Is(err, repository.ErrVersionConflict) {
		// A concurrent start took the same attempt over.
		return nil, ErrAttemptAlreadyActive
	}
	if err != nil {
		// Release the learner's slot so the start can be retried.
		if _, abandonErr := s.attempts.Transition(ctx, repository.Transition{
			ID:              a.ID,
			ExpectedVersion: a.Version,
			To:              model.AttemptStateAbandoned,
			At:              now,
			Reason:          ReasonStartFailed,
		}); abandonErr != nil {
			s.log.Error().Err(abandonErr).Str("attempt_id", a.ID.String()).Msg("Failed to release attempt after start failure")
		}
		return nil, fmt.Errorf("start attempt: %w", err)
	}

	if at := expiresAt(started, def); at != nil {
		s.timer.Schedule(started.ID, *at)
	}

	s.log.Info().
		Str("attempt_id", started.ID.String()).
		Str("assessment_id", def.ID).
		Str("learner_id", learnerID).
		Int("attempt_number", started.AttemptNumber).
		Msg("Attempt started")

	s.publish(ctx, model.EventAttemptStarted, started)
	return started, nil
}

// staleCreated returns the learner's attempt left in CREATED by a start
// that never finished, or nil when there is none.
func (s *AttemptService) staleCreated(ctx context.Context, learnerID, assessmentID string, now time.Time) (*model.Attempt, error) {
	a, err := s.attempts.FindActive(ctx, learnerID, assessmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active attempt: %w", err)
	}
	if a.State != model.AttemptStateCreated || now.Sub(a.CreatedAt) < staleCreatedAfter {
		return nil, nil
	}
	return a, nil
}

// GetAttemptState returns the attempt, its remaining time and the stored
// responses. An attempt found past its deadline is expired first.
func (s *AttemptService) GetAttemptState(ctx context.Context, attemptID uuid.UUID, learnerID string) (*AttemptView, error) {
	a, err := s.getAttempt(ctx, attemptID, learnerID)
	if err != nil {
		return nil, err
	}

	if a.State == model.AttemptStateInProgress && a.DeadlineAt != nil {
		def, err := s.definition(ctx, a.AssessmentID)
		if err != nil {
			return nil, err
		}
		if !s.now().Before(*expiresAt(a, def)) {
			if _, err := s.ExpireAttempt(ctx, a.ID); err != nil {
				return nil, err
			}
			if a, err = s.getAttempt(ctx, attemptID, learnerID); err != nil {
				return nil, err
			}
		}
	}

	responses, err := s.responses.ListByAttempt(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	if responses == nil {
		responses = []model.Response{}
	}

	return &AttemptView{
		Attempt:          a,
		RemainingSeconds: a.RemainingSeconds(s.now()),
		Responses:        responses,
	}, nil
}

// ResumeAttempt returns the state of the learner's active attempt at an
// assessment.
func (s *AttemptService) ResumeAttempt(ctx context.Context, learnerID, assessmentID string) (*AttemptView, error) {
	a, err := s.attempts.FindActive(ctx, learnerID, assessmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active attempt: %w", err)
	}
	return s.GetAttemptState(ctx, a.ID, learnerID)
}

// SubmitAttempt closes a running attempt, scores its objective questions
// and finalizes it when nothing needs a grader. Submitting an attempt that
// is already closed returns its stored result.
func (s *AttemptService) SubmitAttempt(ctx context.Context, attemptID uuid.UUID, learnerID string, final map[string]json.RawMessage) (*SubmitResult, error) {
	a, err := s.getAttempt(ctx, attemptID, learnerID)
	if err != nil {
		return nil, err
	}
	def, err := s.definition(ctx, a.AssessmentID)
	if err != nil {
		return nil, err
	}

	if a.State == model.AttemptStateInProgress && len(final) > 0 {
		if err := s.applyFinalResponses(ctx, a, def, final); err != nil {
			return nil, err
		}
	}

	for i := 0; ; i++ {
		if i == maxTransitionRetries {
			return nil, fmt.Errorf("submit attempt %s: %w", attemptID, repository.ErrVersionConflict)
		}

		switch a.State {
		case model.AttemptStateCreated:
			return nil, ErrAttemptNotInProgress
		case model.AttemptStateInProgress:
		default:
			return s.closedResult(ctx, a, def)
		}

		to, reason := model.AttemptStateSubmitted, ReasonSubmitted
		if at := expiresAt(a, def); at != nil && s.now().After(*at) {
			to, reason = model.AttemptStateExpired, ReasonTimeExpired
		}

		closed, err := s.attempts.Transition(ctx, repository.Transition{
			ID:              a.ID,
			ExpectedVersion: a.Version,
			To:              to,
			At:              s.now(),
			Reason:          reason,
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			if a, err = s.getAttempt(ctx, attemptID, ""); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("close attempt: %w", err)
		}

		s.afterClose(ctx, closed)
		return s.closedResult(ctx, closed, def)
	}
}

// applyFinalResponses validates every value before writing any of them.
func (s *AttemptService) applyFinalResponses(ctx context.Context, a *model.Attempt, def *model.AssessmentDefinition, final map[string]json.RawMessage) error {
	for qid, value := range final {
		q, ok := def.Question(qid)
		if !ok {
			return fmt.Errorf("%w: %s", ErrQuestionNotFound, qid)
		}
		if err := scoring.ValidateAnswer(q, value); err != nil {
			return fmt.Errorf("question %s: %w", qid, err)
		}
	}

	now := s.now()
	for qid, value := range final {
		err := s.responses.Upsert(ctx, &model.Response{
			AttemptID:  a.ID,
			QuestionID: qid,
			Value:      value,
			AnsweredAt: now,
		})
		if errors.Is(err, repository.ErrNotInProgress) {
			// The attempt closed meanwhile; the submission below observes it.
			return nil
		}
		if err != nil {
			return fmt.Errorf("record final response: %w", err)
		}
	}
	return nil
}

// closedResult scores and finalizes a closed attempt as far as possible.
func (s *AttemptService) closedResult(ctx context.Context, a *model.Attempt, def *model.AssessmentDefinition) (*SubmitResult, error) {
	switch a.State {
	case model.AttemptStateAbandoned:
		return &SubmitResult{Attempt: a}, nil
	case model.AttemptStateGraded:
		res := &SubmitResult{Attempt: a}
		if a.FinalScore != nil {
			res.ProvisionalScore = *a.FinalScore
		}
		return res, nil
	}

	if _, err := s.grading.ScoreAttempt(ctx, a, def); err != nil && !errors.Is(err, ErrAttemptNotGradable) {
		return nil, err
	}

	fin, err := s.grading.FinalizeAttempt(ctx, a.ID)
	if errors.Is(err, ErrAttemptNotGradable) {
		// Abandoned concurrently.
		current, getErr := s.getAttempt(ctx, a.ID, "")
		if getErr != nil {
			return nil, getErr
		}
		return &SubmitResult{Attempt: current}, nil
	}
	if err != nil {
		return nil, err
	}

	return &SubmitResult{
		Attempt:          fin.Attempt,
		ProvisionalScore: fin.ProvisionalScore,
		PendingManual:    fin.Status == FinalizeStatusPendingManualGrade,
		PendingQuestions: fin.PendingQuestions,
	}, nil
}

// afterClose runs the side effects of the transition that ended answering.
// Only the caller whose transition committed reaches it.
func (s *AttemptService) afterClose(ctx context.Context, a *model.Attempt) {
	s.timer.Cancel(a.ID)

	ev := model.EventAttemptSubmitted
	switch a.State {
	case model.AttemptStateExpired:
		ev = model.EventAttemptExpired
	case model.AttemptStateAbandoned:
		ev = model.EventAttemptAbandoned
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("state", string(a.State)).
		Str("reason", a.ClosedReason).
		Msg("Attempt closed")

	s.publish(ctx, ev, a)
	if s.analytics != nil {
		s.analytics.OnAttemptClosed(ctx, a)
	}
}

// ExpireAttempt expires a running attempt whose deadline and grace period
// have passed and reports whether this call committed the expiry. It is a
// no-op for any other attempt, including one that a concurrent submission
// closed first. An attempt still inside its grace period is rescheduled.
func (s *AttemptService) ExpireAttempt(ctx context.Context, attemptID uuid.UUID) (bool, error) {
	for i := 0; i < maxTransitionRetries; i++ {
		a, err := s.getAttempt(ctx, attemptID, "")
		if errors.Is(err, ErrAttemptNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if a.State != model.AttemptStateInProgress || a.DeadlineAt == nil {
			return false, nil
		}

		def, err := s.definition(ctx, a.AssessmentID)
		if err != nil {
			return false, err
		}
		at := expiresAt(a, def)
		if s.now().Before(*at) {
			s.timer.Schedule(a.ID, *at)
			return false, nil
		}

		expired, err := s.attempts.Transition(ctx, repository.Transition{
			ID:              a.ID,
			ExpectedVersion: a.Version,
			To:              model.AttemptStateExpired,
			At:              s.now(),
			Reason:          ReasonTimeExpired,
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("expire attempt: %w", err)
		}

		s.afterClose(ctx, expired)
		if _, err := s.closedResult(ctx, expired, def); err != nil {
			s.log.Error().Err(err).Str("attempt_id", expired.ID.String()).Msg("Failed to score expired attempt")
		}
		return true, nil
	}
	return false, fmt.Errorf("expire attempt %s: %w", attemptID, repository.ErrVersionConflict)
}

// AbandonAttempt ends an attempt without grading. Abandoning an abandoned
// attempt is a no-op; graded attempts cannot be abandoned.
func (s *AttemptService) AbandonAttempt(ctx context.Context, attemptID uuid.UUID, learnerID, reason string) (*model.Attempt, error) {
	return s.abandon(ctx, attemptID, learnerID, reason, false)
}

// AbandonActiveAttempt abandons the attempt only while the learner can
// still work on it. An attempt that was submitted, expired or graded in the
// meantime is returned unchanged.
func (s *AttemptService) AbandonActiveAttempt(ctx context.Context, attemptID uuid.UUID, reason string) (*model.Attempt, error) {
	return s.abandon(ctx, attemptID, "", reason, true)
}

func (s *AttemptService) abandon(ctx context.Context, attemptID uuid.UUID, learnerID, reason string, activeOnly bool) (*model.Attempt, error) {
	if reason == "" {
		reason = ReasonAbandoned
	}

	for i := 0; i < maxTransitionRetries; i++ {
		a, err := s.getAttempt(ctx, attemptID, learnerID)
		if err != nil {
			return nil, err
		}
		if activeOnly && !a.State.IsActive() {
			return a, nil
		}
		switch a.State {
		case model.AttemptStateAbandoned:
			return a, nil
		case model.AttemptStateGraded:
			return nil, ErrAttemptAlreadyGraded
		}

		wasActive := a.State.IsActive()
		abandoned, err := s.attempts.Transition(ctx, repository.Transition{
			ID:              a.ID,
			ExpectedVersion: a.Version,
			To:              model.AttemptStateAbandoned,
			At:              s.now(),
			Reason:          reason,
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("abandon attempt: %w", err)
		}

		if wasActive {
			s.afterClose(ctx, abandoned)
		} else {
			s.timer.Cancel(abandoned.ID)
			s.publish(ctx, model.EventAttemptAbandoned, abandoned)
		}
		return abandoned, nil
	}
	return nil, fmt.Errorf("abandon attempt %s: %w", attemptID, repository.ErrVersionConflict)
}
