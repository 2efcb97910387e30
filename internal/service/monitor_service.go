package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
)

// MonitorService builds the live overview of one assessment shown to proctors.
type MonitorService struct {
	attempts  repository.AttemptRepository
	analytics repository.AnalyticsRepository
	catalog   catalog.Catalog
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(attempts repository.AttemptRepository, analytics repository.AnalyticsRepository, cat catalog.Catalog) *MonitorService {
	return &MonitorService{attempts: attempts, analytics: analytics, catalog: cat}
}

// MonitorSnapshot counts the attempts of an assessment by state.
type MonitorSnapshot struct {
	AssessmentID   string                     `json:"assessment_id"`
	Title          string                     `json:"title,omitempty"`
	TotalQuestions int                        `json:"total_questions"`
	ByState        map[model.AttemptState]int `json:"by_state"`
	Active         int                        `json:"active"`
	Graded         int                        `json:"graded"`
	AverageScore   float64                    `json:"average_score"`
}

// GetSnapshot fetches state counts and analytics totals concurrently.
// State counts are required; analytics totals are best-effort.
func (s *MonitorService) GetSnapshot(ctx context.Context, assessmentID string) (*MonitorSnapshot, error) {
	var (
		counts    map[model.AttemptState]int
		totals    *model.AssessmentAnalytics
		countErr  error
		totalsErr error
		wg        sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		counts, countErr = s.attempts.CountByState(ctx, assessmentID)
	}()
	go func() {
		defer wg.Done()
		totals, _, totalsErr = s.analytics.GetAssessment(ctx, assessmentID)
	}()
	wg.Wait()

	if countErr != nil {
		return nil, fmt.Errorf("count attempts: %w", countErr)
	}

	snap := &MonitorSnapshot{
		AssessmentID: assessmentID,
		ByState:      make(map[model.AttemptState]int, len(counts)),
	}
	for state, n := range counts {
		snap.ByState[state] = n
		if state.IsActive() {
			snap.Active += n
		}
	}
	if totalsErr == nil && totals != nil && totals.TotalAttempts > 0 {
		snap.Graded = totals.TotalAttempts
		snap.AverageScore = round2(totals.ScoreSum / float64(totals.TotalAttempts))
	}

	def, err := s.catalog.Get(ctx, assessmentID)
	switch {
	case err == nil:
		snap.Title = def.Title
		snap.TotalQuestions = len(def.Questions)
	case !errors.Is(err, catalog.ErrDefinitionNotFound):
		return nil, fmt.Errorf("get definition: %w", err)
	}
	return snap, nil
}
