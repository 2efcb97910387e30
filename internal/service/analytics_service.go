package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/report"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
	"github.com/stemsi/exstem-attempt-engine/internal/scoring"
)

// Observed difficulty buckets by share of correct answers.
const (
	easyCorrectRatio   = 0.7
	mediumCorrectRatio = 0.4
)

// AnalyticsService builds analytics increments from finished attempts and
// serves the pre-aggregated reports.
type AnalyticsService struct {
	catalog   catalog.Catalog
	repo      repository.AnalyticsRepository
	responses repository.ResponseRepository
	grades    repository.GradeRepository
	queue     AnalyticsQueue
	log       zerolog.Logger
}

// NewAnalyticsService creates a new AnalyticsService. With a nil queue the
// increments are applied directly.
func NewAnalyticsService(
	cat catalog.Catalog,
	repo repository.AnalyticsRepository,
	responses repository.ResponseRepository,
	grades repository.GradeRepository,
	queue AnalyticsQueue,
	log zerolog.Logger,
) *AnalyticsService {
	return &AnalyticsService{
		catalog:   cat,
		repo:      repo,
		responses: responses,
		grades:    grades,
		queue:     queue,
		log:       log.With().Str("component", "analytics_service").Logger(),
	}
}

// OnAttemptGraded records the per-question outcome of a graded attempt.
// Failures are logged and never returned to the grading caller.
func (s *AnalyticsService) OnAttemptGraded(ctx context.Context, a *model.Attempt) {
	ev, err := s.buildGradedEvent(ctx, a)
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to build graded analytics")
		return
	}
	s.enqueue(ctx, ev)
}

// OnAttemptClosed records how far a closed attempt got through its
// question order.
func (s *AnalyticsService) OnAttemptClosed(ctx context.Context, a *model.Attempt) {
	ev, err := s.buildClosedEvent(ctx, a)
	if err != nil {
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to build drop-off analytics")
		return
	}
	s.enqueue(ctx, ev)
}

func (s *AnalyticsService) enqueue(ctx context.Context, ev *model.AnalyticsEvent) {
	if s.queue != nil {
		err := s.queue.Push(ctx, ev)
		if err == nil {
			return
		}
		s.log.Warn().Err(err).
			Str("attempt_id", ev.AttemptID.String()).
			Str("kind", string(ev.Kind)).
			Msg("Analytics queue unavailable, applying directly")
	}

	if _, err := s.repo.Apply(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("attempt_id", ev.AttemptID.String()).
			Str("kind", string(ev.Kind)).
			Msg("Failed to apply analytics")
	}
}

func (s *AnalyticsService) buildGradedEvent(ctx context.Context, a *model.Attempt) (*model.AnalyticsEvent, error) {
	if a.FinalScore == nil || a.Passed == nil {
		return nil, errors.New("attempt has no final result")
	}

	def, err := s.catalog.Get(ctx, a.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get definition: %w", err)
	}
	grades, err := s.grades.ListGrades(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	responses, err := s.responses.ListByAttempt(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}

	scores := make(map[string]float64, len(grades))
	for _, g := range grades {
		if v, ok := g.EffectiveScore(); ok {
			scores[g.QuestionID] = v
		}
	}
	times := timePerQuestion(a.StartedAt, responses)

	ev := &model.AnalyticsEvent{
		Kind:         model.AnalyticsEventGraded,
		AttemptID:    a.ID,
		AssessmentID: a.AssessmentID,
		Score:        *a.FinalScore,
		Passed:       *a.Passed,
		Questions:    make([]model.QuestionOutcome, 0, len(def.Questions)),
	}
	for i := range def.Questions {
		q := &def.Questions[i]
		outcome := model.QuestionOutcome{
			QuestionID: q.ID,
			Correct:    scoring.IsCorrect(q, def.GradingPolicy, scores[q.ID]),
		}
		if secs, ok := times[q.ID]; ok {
			outcome.TimeSeconds = &secs
		}
		ev.Questions = append(ev.Questions, outcome)
	}
	return ev, nil
}

func (s *AnalyticsService) buildClosedEvent(ctx context.Context, a *model.Attempt) (*model.AnalyticsEvent, error) {
	order := a.QuestionOrder
	if len(order) == 0 {
		def, err := s.catalog.Get(ctx, a.AssessmentID)
		if err != nil {
			return nil, fmt.Errorf("get definition: %w", err)
		}
		order = def.QuestionIDs()
	}

	ev := &model.AnalyticsEvent{
		Kind:          model.AnalyticsEventClosed,
		AttemptID:     a.ID,
		AssessmentID:  a.AssessmentID,
		QuestionCount: len(order),
		Completed:     a.State == model.AttemptStateSubmitted,
	}
	if ev.Completed {
		return ev, nil
	}

	responses, err := s.responses.ListByAttempt(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	index := make(map[string]int, len(order))
	for i, id := range order {
		index[id] = i
	}
	furthest := -1
	for _, r := range responses {
		if i, ok := index[r.QuestionID]; ok && i > furthest {
			furthest = i
		}
	}
	ev.Progress = furthest + 1
	return ev, nil
}

// timePerQuestion attributes the time between consecutive saves to the
// question saved second, starting from the attempt start.
func timePerQuestion(startedAt *time.Time, responses []model.Response) map[string]float64 {
	if startedAt == nil || len(responses) == 0 {
		return nil
	}
	sorted := append([]model.Response(nil), responses...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AnsweredAt.Before(sorted[j].AnsweredAt) })

	times := make(map[string]float64, len(sorted))
	prev := *startedAt
	for _, r := range sorted {
		d := r.AnsweredAt.Sub(prev).Seconds()
		if d < 0 {
			d = 0
		}
		times[r.QuestionID] = round2(d)
		prev = r.AnsweredAt
	}
	return times
}

// GetAssessmentAnalytics reads the pre-aggregated counters of an assessment.
func (s *AnalyticsService) GetAssessmentAnalytics(ctx context.Context, assessmentID string) (*model.AnalyticsReport, error) {
	totals, questions, err := s.repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("get analytics: %w", err)
	}

	def, err := s.catalog.Get(ctx, assessmentID)
	if err != nil && !errors.Is(err, catalog.ErrDefinitionNotFound) {
		return nil, fmt.Errorf("get definition: %w", err)
	}

	rep := &model.AnalyticsReport{
		AssessmentID:  assessmentID,
		TotalAttempts: totals.TotalAttempts,
		PerQuestion:   []model.QuestionReport{},
	}
	if totals.TotalAttempts > 0 {
		rep.AverageScore = round2(totals.ScoreSum / float64(totals.TotalAttempts))
		rep.PassRate = math.Round(float64(totals.PassedCount)/float64(totals.TotalAttempts)*10000) / 10000
	}

	byID := make(map[string]model.QuestionAnalytics, len(questions))
	for _, qa := range questions {
		byID[qa.QuestionID] = qa
	}

	if def != nil {
		rep.Title = def.Title
		for _, q := range def.Questions {
			qr := questionReport(q.ID, byID[q.ID])
			qr.Difficulty = q.Difficulty
			rep.PerQuestion = append(rep.PerQuestion, qr)
			delete(byID, q.ID)
		}
	}

	// Counters for questions no longer in the definition are still reported.
	rest := make([]string, 0, len(byID))
	for id := range byID {
		rest = append(rest, id)
	}
	sort.Strings(rest)
	for _, id := range rest {
		rep.PerQuestion = append(rep.PerQuestion, questionReport(id, byID[id]))
	}
	return rep, nil
}

func questionReport(questionID string, qa model.QuestionAnalytics) model.QuestionReport {
	qr := model.QuestionReport{QuestionID: questionID, TotalAttempts: qa.TotalAttempts}
	if qa.TotalAttempts > 0 {
		ratio := float64(qa.CorrectCount) / float64(qa.TotalAttempts)
		qr.CorrectPct = round2(ratio * 100)
		switch {
		case ratio >= easyCorrectRatio:
			qr.ObservedDifficulty = model.DifficultyEasy
		case ratio >= mediumCorrectRatio:
			qr.ObservedDifficulty = model.DifficultyMedium
		default:
			qr.ObservedDifficulty = model.DifficultyHard
		}
	}
	if qa.TimedCount > 0 {
		qr.AverageTimeSeconds = round2(qa.TotalTimeSeconds / float64(qa.TimedCount))
	}
	return qr
}

// GetDropoffAnalysis reports, per question position, how many closed
// attempts reached it and how many stopped answering there.
func (s *AnalyticsService) GetDropoffAnalysis(ctx context.Context, assessmentID string) (*model.DropoffReport, error) {
	counters, err := s.repo.GetDropoff(ctx, assessmentID)
	if err != nil {
		return nil, fmt.Errorf("get dropoff: %w", err)
	}

	def, err := s.catalog.Get(ctx, assessmentID)
	if err != nil && !errors.Is(err, catalog.ErrDefinitionNotFound) {
		return nil, fmt.Errorf("get definition: %w", err)
	}

	rep := &model.DropoffReport{AssessmentID: assessmentID, Points: make([]model.DropoffPoint, 0, len(counters))}
	for _, c := range counters {
		p := model.DropoffPoint{QuestionIndex: c.QuestionIndex, Reached: c.Reached, Stalled: c.Stalled}
		if c.Reached > 0 {
			p.StallRate = math.Round(float64(c.Stalled)/float64(c.Reached)*10000) / 10000
		}
		// Positions only map to a fixed question when the order is not shuffled.
		if def != nil && !def.Randomize && c.QuestionIndex < len(def.Questions) {
			p.QuestionID = def.Questions[c.QuestionIndex].ID
		}
		if c.QuestionIndex == 0 {
			rep.TotalClosed = c.Reached
		}
		rep.Points = append(rep.Points, p)
	}
	return rep, nil
}

// ExportAssessmentAnalytics writes the analytics and drop-off reports as
// an XLSX workbook.
func (s *AnalyticsService) ExportAssessmentAnalytics(ctx context.Context, assessmentID string, w io.Writer) error {
	analytics, err := s.GetAssessmentAnalytics(ctx, assessmentID)
	if err != nil {
		return err
	}
	dropoff, err := s.GetDropoffAnalysis(ctx, assessmentID)
	if err != nil {
		return err
	}
	return report.WriteAnalyticsWorkbook(w, analytics, dropoff)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
