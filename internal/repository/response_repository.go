package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// PgResponseRepository is the PostgreSQL answer ledger.
type PgResponseRepository struct {
	pool *pgxpool.Pool
}

// NewResponseRepository creates a new PgResponseRepository.
func NewResponseRepository(pool *pgxpool.Pool) *PgResponseRepository {
	return &PgResponseRepository{pool: pool}
}

// Upsert stores a response last-write-wins. The attempt row is share-locked
// inside the statement, so a concurrent transition either waits for this
// write or makes it match zero rows.
func (r *PgResponseRepository) Upsert(ctx context.Context, resp *model.Response) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_responses (attempt_id, question_id, value, answered_at)
		 SELECT live.id, $2::text, $3::jsonb, $4::timestamptz
		 FROM (
		     SELECT id FROM attempts
		     WHERE id = $1
		       AND state = 'IN_PROGRESS'
		       AND (deadline_at IS NULL OR deadline_at > $4::timestamptz)
		     FOR SHARE
		 ) AS live
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET value = EXCLUDED.value, answered_at = EXCLUDED.answered_at`,
		resp.AttemptID, resp.QuestionID, []byte(resp.Value), resp.AnsweredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotInProgress
	}
	return nil
}

// ListByAttempt returns every stored response of an attempt.
func (r *PgResponseRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, value, answered_at
		 FROM attempt_responses
		 WHERE attempt_id = $1
		 ORDER BY answered_at`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []model.Response
	for rows.Next() {
		var resp model.Response
		var value []byte
		if err := rows.Scan(&resp.AttemptID, &resp.QuestionID, &value, &resp.AnsweredAt); err != nil {
			return nil, err
		}
		resp.Value = value
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}
