package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
	"github.com/stemsi/exstem-attempt-engine/internal/scoring"
)

// FinalizeStatus is the outcome of a finalization request.
type FinalizeStatus string

const (
	FinalizeStatusGraded             FinalizeStatus = "GRADED"
	FinalizeStatusPendingManualGrade FinalizeStatus = "PENDING_MANUAL_GRADE"
)

// FinalizeResult describes a finalized attempt or the questions still
// waiting for a grader.
type FinalizeResult struct {
	Status           FinalizeStatus `json:"status"`
	Attempt          *model.Attempt `json:"attempt"`
	FinalScore       *float64       `json:"final_score,omitempty"`
	Passed           *bool          `json:"passed,omitempty"`
	ProvisionalScore float64        `json:"provisional_score"`
	PendingQuestions []string       `json:"pending_questions,omitempty"`
}

// GradeInput is one grader decision. Exactly one of Score and RubricScores
// must be set.
type GradeInput struct {
	AttemptID    uuid.UUID
	QuestionID   string
	GraderID     string
	Score        *float64
	RubricScores map[string]float64
	Feedback     string
}

// BulkItemResult reports one item of a bulk grading request.
type BulkItemResult struct {
	AttemptID  string             `json:"attempt_id"`
	QuestionID string             `json:"question_id"`
	OK         bool               `json:"ok"`
	Grade      *model.GradeRecord `json:"grade,omitempty"`
	Err        error              `json:"-"`
}

// BulkGradeResult reports every item and, when requested, the finalization
// of each touched attempt.
type BulkGradeResult struct {
	Items     []BulkItemResult  `json:"items"`
	Finalized []*FinalizeResult `json:"finalized,omitempty"`
	Failed    int               `json:"failed"`
}

// GradingService merges auto and manual scores into final results.
type GradingService struct {
	attempts  repository.AttemptRepository
	responses repository.ResponseRepository
	grades    repository.GradeRepository
	catalog   catalog.Catalog
	analytics *AnalyticsService
	publisher EventPublisher
	now       Clock
	log       zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(
	attempts repository.AttemptRepository,
	responses repository.ResponseRepository,
	grades repository.GradeRepository,
	cat catalog.Catalog,
	analytics *AnalyticsService,
	publisher EventPublisher,
	now Clock,
	log zerolog.Logger,
) *GradingService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &GradingService{
		attempts:  attempts,
		responses: responses,
		grades:    grades,
		catalog:   cat,
		analytics: analytics,
		publisher: publisher,
		now:       now,
		log:       log.With().Str("component", "grading_service").Logger(),
	}
}

func (s *GradingService) getAttempt(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

func (s *GradingService) definition(ctx context.Context, assessmentID string) (*model.AssessmentDefinition, error) {
	def, err := s.catalog.Get(ctx, assessmentID)
	if errors.Is(err, catalog.ErrDefinitionNotFound) {
		return nil, ErrAssessmentNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	return def, nil
}

// ScoreAttempt computes the objective scores of a closed attempt from its
// stored responses and records them. Re-running it writes the same values.
func (s *GradingService) ScoreAttempt(ctx context.Context, a *model.Attempt, def *model.AssessmentDefinition) (map[string]float64, error) {
	responses, err := s.responses.ListByAttempt(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	values := make(map[string]json.RawMessage, len(responses))
	for _, r := range responses {
		values[r.QuestionID] = r.Value
	}

	scores := scoring.ScoreObjective(def, values)
	if err := s.grades.UpsertAuto(ctx, a.ID, scores); err != nil {
		if errors.Is(err, repository.ErrNotGradable) {
			return nil, ErrAttemptNotGradable
		}
		return nil, fmt.Errorf("store auto scores: %w", err)
	}
	return scores, nil
}

// GradeQuestion records a grader's score for one question. Rubric input is
// clamped per criterion and capped at the question's marks.
func (s *GradingService) GradeQuestion(ctx context.Context, in GradeInput) (*model.GradeRecord, error) {
	a, err := s.getAttempt(ctx, in.AttemptID)
	if err != nil {
		return nil, err
	}
	switch {
	case a.State == model.AttemptStateGraded:
		return nil, ErrAttemptAlreadyGraded
	case !a.State.IsGradable():
		return nil, ErrAttemptNotGradable
	}

	def, err := s.definition(ctx, a.AssessmentID)
	if err != nil {
		return nil, err
	}
	q, ok := def.Question(in.QuestionID)
	if !ok {
		return nil, ErrQuestionNotFound
	}

	var score float64
	switch {
	case in.Score != nil && len(in.RubricScores) > 0:
		return nil, fmt.Errorf("%w: provide either score or rubric_scores, not both", ErrInvalidScore)
	case len(in.RubricScores) > 0:
		score, err = scoring.ScoreRubric(q, in.RubricScores)
	case in.Score != nil:
		score = *in.Score
		err = scoring.CheckManualScore(q, score)
	default:
		return nil, fmt.Errorf("%w: score or rubric_scores is required", ErrInvalidScore)
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	g := &model.GradeRecord{
		AttemptID:    a.ID,
		QuestionID:   q.ID,
		ManualScore:  &score,
		RubricScores: in.RubricScores,
		GraderID:     in.GraderID,
		GradedAt:     &now,
		Feedback:     in.Feedback,
	}
	if err := s.grades.SetManual(ctx, g); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrAttemptNotFound
		case errors.Is(err, repository.ErrNotGradable):
			return nil, ErrAttemptNotGradable
		}
		return nil, fmt.Errorf("store manual grade: %w", err)
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("question_id", q.ID).
		Str("grader_id", in.GraderID).
		Float64("score", score).
		Msg("Question graded")
	return g, nil
}

// FinalizeAttempt moves an attempt to GRADED once every question has a
// score. Otherwise it reports the pending questions. Finalizing a graded
// attempt returns the stored result.
//
// A version conflict either closed the attempt, which the next read
// returns, or came from a grade write, after which the grades are read
// again. Neither is bounded by maxTransitionRetries.
func (s *GradingService) FinalizeAttempt(ctx context.Context, attemptID uuid.UUID) (*FinalizeResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := s.getAttempt(ctx, attemptID)
		if err != nil {
			return nil, err
		}

		switch a.State {
		case model.AttemptStateGraded:
			return s.gradedResult(a), nil
		case model.AttemptStateSubmitted, model.AttemptStateExpired:
		default:
			return nil, ErrAttemptNotGradable
		}

		def, err := s.definition(ctx, a.AssessmentID)
		if err != nil {
			return nil, err
		}
		scores, err := s.effectiveScores(ctx, a, def)
		if err != nil {
			return nil, err
		}

		var total float64
		var pending []string
		for _, q := range def.Questions {
			v, ok := scores[q.ID]
			if !ok {
				pending = append(pending, q.ID)
				continue
			}
			total += v
		}
		total = round2(total)

		if len(pending) > 0 {
			return &FinalizeResult{
				Status:           FinalizeStatusPendingManualGrade,
				Attempt:          a,
				ProvisionalScore: total,
				PendingQuestions: pending,
			}, nil
		}

		passed := total >= def.PassingScore
		graded, err := s.attempts.Transition(ctx, repository.Transition{
			ID:              a.ID,
			ExpectedVersion: a.Version,
			To:              model.AttemptStateGraded,
			At:              s.now(),
			FinalScore:      &total,
			Passed:          &passed,
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("transition to graded: %w", err)
		}

		s.log.Info().
			Str("attempt_id", graded.ID.String()).
			Float64("final_score", total).
			Bool("passed", passed).
			Msg("Attempt graded")

		if err := s.publisher.Publish(ctx, model.NewAttemptEvent(model.EventAttemptGraded, graded, s.now())); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", graded.ID.String()).Msg("Failed to publish graded event")
		}
		if s.analytics != nil {
			s.analytics.OnAttemptGraded(ctx, graded)
		}
		return s.gradedResult(graded), nil
	}
}

// effectiveScores returns the score of every question that has one. Auto
// scores missing after an interrupted close are recomputed first.
func (s *GradingService) effectiveScores(ctx context.Context, a *model.Attempt, def *model.AssessmentDefinition) (map[string]float64, error) {
	grades, err := s.grades.ListGrades(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	scores := make(map[string]float64, len(grades))
	for _, g := range grades {
		if v, ok := g.EffectiveScore(); ok {
			scores[g.QuestionID] = v
		}
	}

	for i := range def.Questions {
		q := &def.Questions[i]
		if _, ok := scores[q.ID]; ok || scoring.RequiresManual(q, def.GradingPolicy) {
			continue
		}
		auto, err := s.ScoreAttempt(ctx, a, def)
		if err != nil {
			return nil, err
		}
		for qid, v := range auto {
			if _, ok := scores[qid]; !ok {
				scores[qid] = v
			}
		}
		break
	}
	return scores, nil
}

func (s *GradingService) gradedResult(a *model.Attempt) *FinalizeResult {
	res := &FinalizeResult{
		Status:     FinalizeStatusGraded,
		Attempt:    a,
		FinalScore: a.FinalScore,
		Passed:     a.Passed,
	}
	if a.FinalScore != nil {
		res.ProvisionalScore = *a.FinalScore
	}
	return res
}

// BulkGrade applies every item independently. A failing item is reported
// and the rest still run. With finalize set, each attempt that received at
// least one grade is finalized afterwards.
func (s *GradingService) BulkGrade(ctx context.Context, graderID string, req *model.BulkGradeRequest) *BulkGradeResult {
	res := &BulkGradeResult{Items: make([]BulkItemResult, 0, len(req.Items))}
	var touched []uuid.UUID
	seen := make(map[uuid.UUID]struct{})

	for _, item := range req.Items {
		out := BulkItemResult{AttemptID: item.AttemptID, QuestionID: item.QuestionID}

		id, err := uuid.Parse(item.AttemptID)
		if err != nil {
			out.Err = ErrAttemptNotFound
			res.Items = append(res.Items, out)
			res.Failed++
			continue
		}

		g, err := s.GradeQuestion(ctx, GradeInput{
			AttemptID:    id,
			QuestionID:   item.QuestionID,
			GraderID:     graderID,
			Score:        item.Score,
			RubricScores: item.RubricScores,
			Feedback:     item.Feedback,
		})
		if err != nil {
			out.Err = err
			res.Failed++
		} else {
			out.OK = true
			out.Grade = g
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				touched = append(touched, id)
			}
		}
		res.Items = append(res.Items, out)
	}

	if req.Finalize {
		for _, id := range touched {
			fin, err := s.FinalizeAttempt(ctx, id)
			if err != nil {
				s.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Bulk finalize failed")
				continue
			}
			res.Finalized = append(res.Finalized, fin)
		}
	}
	return res
}

// ListGrades returns the grade records of an attempt ordered by question.
func (s *GradingService) ListGrades(ctx context.Context, attemptID uuid.UUID) ([]model.GradeRecord, error) {
	if _, err := s.getAttempt(ctx, attemptID); err != nil {
		return nil, err
	}
	grades, err := s.grades.ListGrades(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	sort.Slice(grades, func(i, j int) bool { return grades[i].QuestionID < grades[j].QuestionID })
	return grades, nil
}
