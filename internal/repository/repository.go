package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// Storage errors shared by every backend.
var (
	ErrNotFound            = errors.New("record not found")
	ErrVersionConflict     = errors.New("version conflict")
	ErrActiveAttemptExists = errors.New("an active attempt already exists")
	ErrAttemptLimitReached = errors.New("attempt limit reached")
	ErrNotInProgress       = errors.New("attempt is not accepting responses")
	ErrNotGradable         = errors.New("attempt is not gradable")
)

// Transition is a compare-and-swap state change of one attempt. It only
// applies when the stored version still equals ExpectedVersion.
type Transition struct {
	ID              uuid.UUID
	ExpectedVersion int
	To              model.AttemptState
	At              time.Time

	// DeadlineAt is written only when the attempt has no deadline yet.
	DeadlineAt *time.Time
	FinalScore *float64
	Passed     *bool
	Reason     string
}

// AttemptRepository persists attempts and their lifecycle transitions.
type AttemptRepository interface {
	// Create assigns the next attempt number and inserts a in CREATED.
	// It returns ErrAttemptLimitReached when maxAttempts (>0) attempts
	// exist and ErrActiveAttemptExists when one is still active.
	Create(ctx context.Context, a *model.Attempt, maxAttempts int) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	FindActive(ctx context.Context, learnerID, assessmentID string) (*model.Attempt, error)
	Transition(ctx context.Context, t Transition) (*model.Attempt, error)
	ListInProgressTimed(ctx context.Context) ([]model.Attempt, error)
	CountByState(ctx context.Context, assessmentID string) (map[model.AttemptState]int, error)
}

// ResponseRepository is the answer ledger.
type ResponseRepository interface {
	// Upsert stores the value last-write-wins. The write is rejected with
	// ErrNotInProgress unless, at write time, the attempt is IN_PROGRESS and
	// its deadline (if any) is after r.AnsweredAt.
	Upsert(ctx context.Context, r *model.Response) error
	ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error)
}

// GradeRepository stores per-question scores.
type GradeRepository interface {
	// UpsertAuto writes auto scores without touching manual ones. It is a
	// no-op returning ErrNotGradable once the attempt left SUBMITTED/EXPIRED.
	UpsertAuto(ctx context.Context, attemptID uuid.UUID, scores map[string]float64) error
	// SetManual records a grader's score and bumps the attempt version so
	// that a concurrent finalization re-reads the grades.
	SetManual(ctx context.Context, g *model.GradeRecord) error
	ListGrades(ctx context.Context, attemptID uuid.UUID) ([]model.GradeRecord, error)
}

// AnalyticsRepository applies queued increments and serves aggregates.
type AnalyticsRepository interface {
	// Apply applies ev once; a repeated event returns false without effect.
	Apply(ctx context.Context, ev *model.AnalyticsEvent) (bool, error)
	// ApplyBatch applies every event in a single unit of work.
	ApplyBatch(ctx context.Context, evs []*model.AnalyticsEvent) error
	GetAssessment(ctx context.Context, assessmentID string) (*model.AssessmentAnalytics, []model.QuestionAnalytics, error)
	GetDropoff(ctx context.Context, assessmentID string) ([]model.DropoffCounter, error)
}

// IntegrityRepository persists client-reported integrity events.
type IntegrityRepository interface {
	InsertBatch(ctx context.Context, events []*model.IntegrityEvent) error
	Insert(ctx context.Context, e *model.IntegrityEvent) error
	CountByAttempt(ctx context.Context, attemptID uuid.UUID) (int, error)
}
