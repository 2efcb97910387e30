package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

const attemptColumns = `id, assessment_id, learner_id, attempt_number, state, question_order,
	started_at, deadline_at, submitted_at, ended_at, graded_at,
	final_score, passed, closed_reason, version, created_at`

// PgAttemptRepository handles attempt data access on PostgreSQL.
type PgAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new PgAttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *PgAttemptRepository {
	return &PgAttemptRepository{pool: pool}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(
		&a.ID, &a.AssessmentID, &a.LearnerID, &a.AttemptNumber, &a.State, &a.QuestionOrder,
		&a.StartedAt, &a.DeadlineAt, &a.SubmittedAt, &a.EndedAt, &a.GradedAt,
		&a.FinalScore, &a.Passed, &a.ClosedReason, &a.Version, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new attempt in CREATED. The count-and-insert runs under a
// transaction-scoped advisory lock keyed by (learner, assessment) so that
// concurrent starts of different learners never wait on each other.
func (r *PgAttemptRepository) Create(ctx context.Context, a *model.Attempt, maxAttempts int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		a.LearnerID+"\x00"+a.AssessmentID,
	); err != nil {
		return fmt.Errorf("lock learner slot: %w", err)
	}

	var total, active int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE state IN ('CREATED', 'IN_PROGRESS'))
		 FROM attempts
		 WHERE learner_id = $1 AND assessment_id = $2`,
		a.LearnerID, a.AssessmentID,
	).Scan(&total, &active)
	if err != nil {
		return fmt.Errorf("count attempts: %w", err)
	}

	if maxAttempts > 0 && total >= maxAttempts {
		return ErrAttemptLimitReached
	}
	if active > 0 {
		return ErrActiveAttemptExists
	}

	a.AttemptNumber = total + 1
	a.State = model.AttemptStateCreated
	a.Version = 1

	err = tx.QueryRow(ctx,
		`INSERT INTO attempts (id, assessment_id, learner_id, attempt_number, state, question_order, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		a.ID, a.AssessmentID, a.LearnerID, a.AttemptNumber, string(a.State), a.QuestionOrder, a.Version, a.CreatedAt,
	).Scan(&a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveAttemptExists
		}
		return fmt.Errorf("insert attempt: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByID retrieves an attempt by its id.
func (r *PgAttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id,
	))
}

// FindActive retrieves the learner's CREATED or IN_PROGRESS attempt.
func (r *PgAttemptRepository) FindActive(ctx context.Context, learnerID, assessmentID string) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE learner_id = $1 AND assessment_id = $2 AND state IN ('CREATED', 'IN_PROGRESS')`,
		learnerID, assessmentID,
	))
}

// Transition applies a compare-and-swap state change. The update matches
// only when both the version and a valid source state still hold; otherwise
// ErrVersionConflict is returned and the caller re-reads.
func (r *PgAttemptRepository) Transition(ctx context.Context, t Transition) (*model.Attempt, error) {
	from := SourceStateNames(t.To)
	if len(from) == 0 {
		return nil, fmt.Errorf("no transition leads to %s", t.To)
	}

	var startedAt, submittedAt, endedAt, gradedAt *time.Time
	at := t.At
	switch t.To {
	case model.AttemptStateInProgress:
		startedAt = &at
	case model.AttemptStateSubmitted:
		submittedAt, endedAt = &at, &at
	case model.AttemptStateExpired, model.AttemptStateAbandoned:
		endedAt = &at
	case model.AttemptStateGraded:
		gradedAt = &at
	}

	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`UPDATE attempts SET
		     state         = $3,
		     version       = version + 1,
		     started_at    = COALESCE(started_at, $4),
		     deadline_at   = COALESCE(deadline_at, $5),
		     submitted_at  = COALESCE(submitted_at, $6),
		     ended_at      = COALESCE(ended_at, $7),
		     graded_at     = COALESCE(graded_at, $8),
		     final_score   = COALESCE($9, final_score),
		     passed        = COALESCE($10, passed),
		     closed_reason = CASE WHEN $11::text = '' THEN closed_reason ELSE $11::text END,
		     updated_at    = NOW()
		 WHERE id = $1 AND version = $2 AND state = ANY($12::text[])
		 RETURNING `+attemptColumns,
		t.ID, t.ExpectedVersion, string(t.To),
		startedAt, t.DeadlineAt, submittedAt, endedAt, gradedAt,
		t.FinalScore, t.Passed, t.Reason, from,
	))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, t.ID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("transition attempt: %w", err)
	}
	return a, nil
}

// ListInProgressTimed returns every running attempt that has a deadline.
func (r *PgAttemptRepository) ListInProgressTimed(ctx context.Context) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE state = 'IN_PROGRESS' AND deadline_at IS NOT NULL
		 ORDER BY deadline_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// CountByState counts an assessment's attempts per state.
func (r *PgAttemptRepository) CountByState(ctx context.Context, assessmentID string) (map[model.AttemptState]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM attempts WHERE assessment_id = $1 GROUP BY state`,
		assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.AttemptState]int)
	for rows.Next() {
		var state model.AttemptState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// SourceStateNames lists the states from which to is reachable, as strings.
func SourceStateNames(to model.AttemptState) []string {
	from := model.SourceStates(to)
	names := make([]string, len(from))
	for i, s := range from {
		names[i] = string(s)
	}
	return names
}
