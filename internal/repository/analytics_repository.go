package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// PgAnalyticsRepository keeps the pre-aggregated analytics tables.
type PgAnalyticsRepository struct {
	pool *pgxpool.Pool
}

// NewAnalyticsRepository creates a new PgAnalyticsRepository.
func NewAnalyticsRepository(pool *pgxpool.Pool) *PgAnalyticsRepository {
	return &PgAnalyticsRepository{pool: pool}
}

// Apply applies one event in its own transaction.
func (r *PgAnalyticsRepository) Apply(ctx context.Context, ev *model.AnalyticsEvent) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	applied, err := applyEvent(ctx, tx, ev)
	if err != nil {
		return false, err
	}
	return applied, tx.Commit(ctx)
}

// ApplyBatch applies every event in one transaction. Already-applied events
// are skipped, so a retried batch never double counts.
func (r *PgAnalyticsRepository) ApplyBatch(ctx context.Context, evs []*model.AnalyticsEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, ev := range evs {
		if _, err := applyEvent(ctx, tx, ev); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func applyEvent(ctx context.Context, tx pgx.Tx, ev *model.AnalyticsEvent) (bool, error) {
	tag, err := tx.Exec(ctx,
		`INSERT INTO analytics_applied (attempt_id, kind) VALUES ($1, $2)
		 ON CONFLICT (attempt_id, kind) DO NOTHING`,
		ev.AttemptID, string(ev.Kind),
	)
	if err != nil {
		return false, fmt.Errorf("mark applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	switch ev.Kind {
	case model.AnalyticsEventGraded:
		err = applyGraded(ctx, tx, ev)
	case model.AnalyticsEventClosed:
		err = applyClosed(ctx, tx, ev)
	default:
		err = fmt.Errorf("unknown analytics event kind %q", ev.Kind)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func applyGraded(ctx context.Context, tx pgx.Tx, ev *model.AnalyticsEvent) error {
	passed := 0
	if ev.Passed {
		passed = 1
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO assessment_analytics (assessment_id, total_attempts, score_sum, passed_count)
		 VALUES ($1, 1, $2, $3)
		 ON CONFLICT (assessment_id) DO UPDATE SET
		     total_attempts = assessment_analytics.total_attempts + 1,
		     score_sum      = assessment_analytics.score_sum + EXCLUDED.score_sum,
		     passed_count   = assessment_analytics.passed_count + EXCLUDED.passed_count`,
		ev.AssessmentID, ev.Score, passed,
	)
	if err != nil {
		return fmt.Errorf("increment assessment analytics: %w", err)
	}

	if len(ev.Questions) == 0 {
		return nil
	}

	n := len(ev.Questions)
	questionIDs := make([]string, 0, n)
	correct := make([]int, 0, n)
	seconds := make([]float64, 0, n)
	timed := make([]int, 0, n)
	for _, q := range ev.Questions {
		questionIDs = append(questionIDs, q.QuestionID)
		c := 0
		if q.Correct {
			c = 1
		}
		correct = append(correct, c)
		if q.TimeSeconds != nil {
			seconds = append(seconds, *q.TimeSeconds)
			timed = append(timed, 1)
		} else {
			seconds = append(seconds, 0)
			timed = append(timed, 0)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO question_analytics (assessment_id, question_id, total_attempts, correct_count, total_time_seconds, timed_count)
		 SELECT $1, u.question_id, 1, u.correct, u.seconds, u.timed
		 FROM UNNEST($2::text[], $3::int[], $4::float8[], $5::int[]) AS u (question_id, correct, seconds, timed)
		 ON CONFLICT (assessment_id, question_id) DO UPDATE SET
		     total_attempts     = question_analytics.total_attempts + 1,
		     correct_count      = question_analytics.correct_count + EXCLUDED.correct_count,
		     total_time_seconds = question_analytics.total_time_seconds + EXCLUDED.total_time_seconds,
		     timed_count        = question_analytics.timed_count + EXCLUDED.timed_count`,
		ev.AssessmentID, questionIDs, correct, seconds, timed,
	)
	if err != nil {
		return fmt.Errorf("increment question analytics: %w", err)
	}
	return nil
}

func applyClosed(ctx context.Context, tx pgx.Tx, ev *model.AnalyticsEvent) error {
	indices, stalled := ev.DropoffRows()
	if len(indices) == 0 {
		return nil
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO dropoff_counters (assessment_id, question_index, reached, stalled)
		 SELECT $1, u.idx, 1, u.stalled
		 FROM UNNEST($2::int[], $3::int[]) AS u (idx, stalled)
		 ON CONFLICT (assessment_id, question_index) DO UPDATE SET
		     reached = dropoff_counters.reached + 1,
		     stalled = dropoff_counters.stalled + EXCLUDED.stalled`,
		ev.AssessmentID, indices, stalled,
	)
	if err != nil {
		return fmt.Errorf("increment dropoff counters: %w", err)
	}
	return nil
}

// GetAssessment returns the assessment totals and per-question counters.
// Assessments without graded attempts yield zero totals.
func (r *PgAnalyticsRepository) GetAssessment(ctx context.Context, assessmentID string) (*model.AssessmentAnalytics, []model.QuestionAnalytics, error) {
	totals := &model.AssessmentAnalytics{AssessmentID: assessmentID}
	err := r.pool.QueryRow(ctx,
		`SELECT total_attempts, score_sum, passed_count
		 FROM assessment_analytics WHERE assessment_id = $1`, assessmentID,
	).Scan(&totals.TotalAttempts, &totals.ScoreSum, &totals.PassedCount)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("get assessment analytics: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_id, total_attempts, correct_count, total_time_seconds, timed_count
		 FROM question_analytics WHERE assessment_id = $1`, assessmentID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("list question analytics: %w", err)
	}
	defer rows.Close()

	var questions []model.QuestionAnalytics
	for rows.Next() {
		qa := model.QuestionAnalytics{AssessmentID: assessmentID}
		if err := rows.Scan(&qa.QuestionID, &qa.TotalAttempts, &qa.CorrectCount, &qa.TotalTimeSeconds, &qa.TimedCount); err != nil {
			return nil, nil, err
		}
		questions = append(questions, qa)
	}
	return totals, questions, rows.Err()
}

// GetDropoff returns the drop-off counters ordered by question position.
func (r *PgAnalyticsRepository) GetDropoff(ctx context.Context, assessmentID string) ([]model.DropoffCounter, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_index, reached, stalled
		 FROM dropoff_counters
		 WHERE assessment_id = $1
		 ORDER BY question_index`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []model.DropoffCounter
	for rows.Next() {
		c := model.DropoffCounter{AssessmentID: assessmentID}
		if err := rows.Scan(&c.QuestionIndex, &c.Reached, &c.Stalled); err != nil {
			return nil, err
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}
