package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// PgGradeRepository handles grade record data access on PostgreSQL.
type PgGradeRepository struct {
	pool *pgxpool.Pool
}

// NewGradeRepository creates a new PgGradeRepository.
func NewGradeRepository(pool *pgxpool.Pool) *PgGradeRepository {
	return &PgGradeRepository{pool: pool}
}

// UpsertAuto writes auto scores in one statement using UNNEST.
func (r *PgGradeRepository) UpsertAuto(ctx context.Context, attemptID uuid.UUID, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var state model.AttemptState
	err = tx.QueryRow(ctx, `SELECT state FROM attempts WHERE id = $1 FOR SHARE`, attemptID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock attempt: %w", err)
	}
	if !state.IsGradable() {
		return ErrNotGradable
	}

	questionIDs := make([]string, 0, len(scores))
	values := make([]float64, 0, len(scores))
	for qid, s := range scores {
		questionIDs = append(questionIDs, qid)
		values = append(values, s)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO grade_records (attempt_id, question_id, auto_score)
		 SELECT $1, u.question_id, u.score
		 FROM UNNEST($2::text[], $3::float8[]) AS u (question_id, score)
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET auto_score = EXCLUDED.auto_score`,
		attemptID, questionIDs, values,
	)
	if err != nil {
		return fmt.Errorf("upsert auto scores: %w", err)
	}

	return tx.Commit(ctx)
}

// SetManual records a grader's score. The attempt version is bumped in the
// same transaction.
func (r *PgGradeRepository) SetManual(ctx context.Context, g *model.GradeRecord) error {
	var rubric []byte
	if len(g.RubricScores) > 0 {
		b, err := json.Marshal(g.RubricScores)
		if err != nil {
			return fmt.Errorf("marshal rubric: %w", err)
		}
		rubric = b
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx,
		`UPDATE attempts SET version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND state IN ('SUBMITTED', 'EXPIRED')
		 RETURNING version`, g.AttemptID,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attempts WHERE id = $1)`, g.AttemptID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrNotGradable
	}
	if err != nil {
		return fmt.Errorf("bump attempt version: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO grade_records (attempt_id, question_id, manual_score, rubric_scores, grader_id, graded_at, feedback)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET manual_score  = EXCLUDED.manual_score,
		               rubric_scores = EXCLUDED.rubric_scores,
		               grader_id     = EXCLUDED.grader_id,
		               graded_at     = EXCLUDED.graded_at,
		               feedback      = EXCLUDED.feedback`,
		g.AttemptID, g.QuestionID, g.ManualScore, rubric, g.GraderID, g.GradedAt, g.Feedback,
	)
	if err != nil {
		return fmt.Errorf("upsert manual grade: %w", err)
	}

	return tx.Commit(ctx)
}

// ListGrades returns every grade record of an attempt.
func (r *PgGradeRepository) ListGrades(ctx context.Context, attemptID uuid.UUID) ([]model.GradeRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, question_id, auto_score, manual_score, rubric_scores, grader_id, graded_at, feedback
		 FROM grade_records
		 WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grades []model.GradeRecord
	for rows.Next() {
		var g model.GradeRecord
		var rubric []byte
		if err := rows.Scan(&g.AttemptID, &g.QuestionID, &g.AutoScore, &g.ManualScore, &rubric, &g.GraderID, &g.GradedAt, &g.Feedback); err != nil {
			return nil, err
		}
		if len(rubric) > 0 {
			if err := json.Unmarshal(rubric, &g.RubricScores); err != nil {
				return nil, fmt.Errorf("decode rubric scores: %w", err)
			}
		}
		grades = append(grades, g)
	}
	return grades, rows.Err()
}
