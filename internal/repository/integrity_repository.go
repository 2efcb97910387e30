package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// PgIntegrityRepository stores integrity events on PostgreSQL.
type PgIntegrityRepository struct {
	pool *pgxpool.Pool
}

// NewIntegrityRepository creates a new PgIntegrityRepository.
func NewIntegrityRepository(pool *pgxpool.Pool) *PgIntegrityRepository {
	return &PgIntegrityRepository{pool: pool}
}

// InsertBatch bulk loads events with COPY.
func (r *PgIntegrityRepository) InsertBatch(ctx context.Context, events []*model.IntegrityEvent) error {
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			e.AttemptID, e.AssessmentID, e.LearnerID, e.Kind, payloadOrNil(e), e.RecordedAt,
		})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"integrity_events"},
		[]string{"attempt_id", "assessment_id", "learner_id", "kind", "payload", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert stores a single event.
func (r *PgIntegrityRepository) Insert(ctx context.Context, e *model.IntegrityEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO integrity_events (attempt_id, assessment_id, learner_id, kind, payload, recorded_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		e.AttemptID, e.AssessmentID, e.LearnerID, e.Kind, payloadOrNil(e), e.RecordedAt,
	)
	return err
}

// CountByAttempt counts the stored events of an attempt.
func (r *PgIntegrityRepository) CountByAttempt(ctx context.Context, attemptID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM integrity_events WHERE attempt_id = $1`, attemptID,
	).Scan(&n)
	return n, err
}

func payloadOrNil(e *model.IntegrityEvent) []byte {
	if len(e.Payload) == 0 {
		return nil
	}
	return []byte(e.Payload)
}
