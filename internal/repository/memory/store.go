// Package memory is an in-process implementation of the repository
// interfaces, used by STORAGE_DRIVER=memory and by service tests.
//
// Locks are held per attempt and per (learner, assessment) slot; unrelated
// attempts never wait on each other.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository"
)

type attemptRecord struct {
	mu        sync.Mutex
	attempt   model.Attempt
	responses map[string]model.Response
	grades    map[string]model.GradeRecord
}

type learnerSlot struct {
	mu       sync.Mutex
	attempts []*attemptRecord
}

type assessmentAggregate struct {
	mu        sync.Mutex
	totals    model.AssessmentAnalytics
	questions map[string]*model.QuestionAnalytics
	dropoff   map[int]*model.DropoffCounter
}

// Store holds attempts, responses, grades, analytics and integrity events.
type Store struct {
	attempts   sync.Map // uuid.UUID -> *attemptRecord
	slots      sync.Map // string -> *learnerSlot
	aggregates sync.Map // assessment id -> *assessmentAggregate
	applied    sync.Map // string -> struct{}

	integrityMu sync.Mutex
	integrity   []model.IntegrityEvent
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

var (
	_ repository.AttemptRepository   = (*Store)(nil)
	_ repository.ResponseRepository  = (*Store)(nil)
	_ repository.GradeRepository     = (*Store)(nil)
	_ repository.AnalyticsRepository = (*Store)(nil)
	_ repository.IntegrityRepository = (*Store)(nil)
)

func slotKey(learnerID, assessmentID string) string {
	return learnerID + "\x00" + assessmentID
}

func (s *Store) record(id uuid.UUID) (*attemptRecord, error) {
	v, ok := s.attempts.Load(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return v.(*attemptRecord), nil
}

func cloneAttempt(a *model.Attempt) *model.Attempt {
	c := *a
	c.QuestionOrder = append([]string(nil), a.QuestionOrder...)
	return &c
}

// ─── Attempts ──────────────────────────────────────────────────────────

// Create inserts a in CREATED after checking the attempt limit and the
// single-active-attempt rule under the learner slot lock.
func (s *Store) Create(_ context.Context, a *model.Attempt, maxAttempts int) error {
	v, _ := s.slots.LoadOrStore(slotKey(a.LearnerID, a.AssessmentID), &learnerSlot{})
	slot := v.(*learnerSlot)

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if maxAttempts > 0 && len(slot.attempts) >= maxAttempts {
		return repository.ErrAttemptLimitReached
	}
	for _, rec := range slot.attempts {
		rec.mu.Lock()
		active := rec.attempt.State.IsActive()
		rec.mu.Unlock()
		if active {
			return repository.ErrActiveAttemptExists
		}
	}

	a.AttemptNumber = len(slot.attempts) + 1
	a.State = model.AttemptStateCreated
	a.Version = 1
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	rec := &attemptRecord{
		attempt:   *cloneAttempt(a),
		responses: make(map[string]model.Response),
		grades:    make(map[string]model.GradeRecord),
	}
	s.attempts.Store(a.ID, rec)
	slot.attempts = append(slot.attempts, rec)
	return nil
}

// GetByID returns a copy of the attempt.
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneAttempt(&rec.attempt), nil
}

// FindActive returns the learner's active attempt for the assessment.
func (s *Store) FindActive(_ context.Context, learnerID, assessmentID string) (*model.Attempt, error) {
	v, ok := s.slots.Load(slotKey(learnerID, assessmentID))
	if !ok {
		return nil, repository.ErrNotFound
	}
	slot := v.(*learnerSlot)

	slot.mu.Lock()
	defer slot.mu.Unlock()
	for _, rec := range slot.attempts {
		rec.mu.Lock()
		if rec.attempt.State.IsActive() {
			a := cloneAttempt(&rec.attempt)
			rec.mu.Unlock()
			return a, nil
		}
		rec.mu.Unlock()
	}
	return nil, repository.ErrNotFound
}

// Transition applies a compare-and-swap state change.
func (s *Store) Transition(_ context.Context, t repository.Transition) (*model.Attempt, error) {
	rec, err := s.record(t.ID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	a := &rec.attempt
	if a.Version != t.ExpectedVersion || !a.State.CanTransition(t.To) {
		return nil, repository.ErrVersionConflict
	}

	at := t.At
	switch t.To {
	case model.AttemptStateInProgress:
		if a.StartedAt == nil {
			a.StartedAt = &at
		}
	case model.AttemptStateSubmitted:
		if a.SubmittedAt == nil {
			a.SubmittedAt = &at
		}
		if a.EndedAt == nil {
			a.EndedAt = &at
		}
	case model.AttemptStateExpired, model.AttemptStateAbandoned:
		if a.EndedAt == nil {
			a.EndedAt = &at
		}
	case model.AttemptStateGraded:
		if a.GradedAt == nil {
			a.GradedAt = &at
		}
	}
	if a.DeadlineAt == nil && t.DeadlineAt != nil {
		d := *t.DeadlineAt
		a.DeadlineAt = &d
	}
	if t.FinalScore != nil {
		v := *t.FinalScore
		a.FinalScore = &v
	}
	if t.Passed != nil {
		v := *t.Passed
		a.Passed = &v
	}
	if t.Reason != "" {
		a.ClosedReason = t.Reason
	}
	a.State = t.To
	a.Version++

	return cloneAttempt(a), nil
}

// ListInProgressTimed returns running attempts with a deadline, earliest first.
func (s *Store) ListInProgressTimed(_ context.Context) ([]model.Attempt, error) {
	var out []model.Attempt
	s.attempts.Range(func(_, v any) bool {
		rec := v.(*attemptRecord)
		rec.mu.Lock()
		if rec.attempt.State == model.AttemptStateInProgress && rec.attempt.DeadlineAt != nil {
			out = append(out, *cloneAttempt(&rec.attempt))
		}
		rec.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].DeadlineAt.Before(*out[j].DeadlineAt) })
	return out, nil
}

// CountByState counts an assessment's attempts per state.
func (s *Store) CountByState(_ context.Context, assessmentID string) (map[model.AttemptState]int, error) {
	counts := make(map[model.AttemptState]int)
	s.attempts.Range(func(_, v any) bool {
		rec := v.(*attemptRecord)
		rec.mu.Lock()
		if rec.attempt.AssessmentID == assessmentID {
			counts[rec.attempt.State]++
		}
		rec.mu.Unlock()
		return true
	})
	return counts, nil
}

// ─── Responses ─────────────────────────────────────────────────────────

// Upsert stores a response while holding the attempt lock, so it can never
// interleave with a transition of the same attempt.
func (s *Store) Upsert(_ context.Context, r *model.Response) error {
	rec, err := s.record(r.AttemptID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	a := &rec.attempt
	if a.State != model.AttemptStateInProgress {
		return repository.ErrNotInProgress
	}
	if a.DeadlineAt != nil && !r.AnsweredAt.Before(*a.DeadlineAt) {
		return repository.ErrNotInProgress
	}

	stored := *r
	stored.Value = append(json.RawMessage(nil), r.Value...)
	rec.responses[r.QuestionID] = stored
	return nil
}

// ListByAttempt returns the stored responses ordered by answer time.
func (s *Store) ListByAttempt(_ context.Context, attemptID uuid.UUID) ([]model.Response, error) {
	rec, err := s.record(attemptID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	out := make([]model.Response, 0, len(rec.responses))
	for _, r := range rec.responses {
		out = append(out, r)
	}
	rec.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AnsweredAt.Equal(out[j].AnsweredAt) {
			return out[i].QuestionID < out[j].QuestionID
		}
		return out[i].AnsweredAt.Before(out[j].AnsweredAt)
	})
	return out, nil
}

// ─── Grades ────────────────────────────────────────────────────────────

// UpsertAuto writes auto scores, leaving manual scores untouched.
func (s *Store) UpsertAuto(_ context.Context, attemptID uuid.UUID, scores map[string]float64) error {
	rec, err := s.record(attemptID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.attempt.State.IsGradable() {
		return repository.ErrNotGradable
	}
	for qid, score := range scores {
		g := rec.grades[qid]
		g.AttemptID = attemptID
		g.QuestionID = qid
		v := score
		g.AutoScore = &v
		rec.grades[qid] = g
	}
	return nil
}

// SetManual records a grader's score and bumps the attempt version.
func (s *Store) SetManual(_ context.Context, g *model.GradeRecord) error {
	rec, err := s.record(g.AttemptID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.attempt.State.IsGradable() {
		return repository.ErrNotGradable
	}

	existing := rec.grades[g.QuestionID]
	existing.AttemptID = g.AttemptID
	existing.QuestionID = g.QuestionID
	existing.ManualScore = g.ManualScore
	existing.RubricScores = g.RubricScores
	existing.GraderID = g.GraderID
	existing.GradedAt = g.GradedAt
	existing.Feedback = g.Feedback
	rec.grades[g.QuestionID] = existing
	rec.attempt.Version++
	return nil
}

// ListGrades returns every grade record of an attempt.
func (s *Store) ListGrades(_ context.Context, attemptID uuid.UUID) ([]model.GradeRecord, error) {
	rec, err := s.record(attemptID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	out := make([]model.GradeRecord, 0, len(rec.grades))
	for _, g := range rec.grades {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

// ─── Analytics ─────────────────────────────────────────────────────────

func (s *Store) aggregate(assessmentID string) *assessmentAggregate {
	v, _ := s.aggregates.LoadOrStore(assessmentID, &assessmentAggregate{
		totals:    model.AssessmentAnalytics{AssessmentID: assessmentID},
		questions: make(map[string]*model.QuestionAnalytics),
		dropoff:   make(map[int]*model.DropoffCounter),
	})
	return v.(*assessmentAggregate)
}

// Apply applies ev once per (attempt, kind).
func (s *Store) Apply(_ context.Context, ev *model.AnalyticsEvent) (bool, error) {
	if ev.Kind != model.AnalyticsEventGraded && ev.Kind != model.AnalyticsEventClosed {
		return false, fmt.Errorf("unknown analytics event kind %q", ev.Kind)
	}

	agg := s.aggregate(ev.AssessmentID)
	agg.mu.Lock()
	defer agg.mu.Unlock()

	key := ev.AttemptID.String() + "/" + string(ev.Kind)
	if _, loaded := s.applied.LoadOrStore(key, struct{}{}); loaded {
		return false, nil
	}

	switch ev.Kind {
	case model.AnalyticsEventGraded:
		agg.totals.TotalAttempts++
		agg.totals.ScoreSum += ev.Score
		if ev.Passed {
			agg.totals.PassedCount++
		}
		for _, q := range ev.Questions {
			qa, ok := agg.questions[q.QuestionID]
			if !ok {
				qa = &model.QuestionAnalytics{AssessmentID: ev.AssessmentID, QuestionID: q.QuestionID}
				agg.questions[q.QuestionID] = qa
			}
			qa.TotalAttempts++
			if q.Correct {
				qa.CorrectCount++
			}
			if q.TimeSeconds != nil {
				qa.TotalTimeSeconds += *q.TimeSeconds
				qa.TimedCount++
			}
		}
	case model.AnalyticsEventClosed:
		indices, stalled := ev.DropoffRows()
		for i, idx := range indices {
			c, ok := agg.dropoff[idx]
			if !ok {
				c = &model.DropoffCounter{AssessmentID: ev.AssessmentID, QuestionIndex: idx}
				agg.dropoff[idx] = c
			}
			c.Reached++
			c.Stalled += stalled[i]
		}
	}
	return true, nil
}

// ApplyBatch applies events one by one; duplicates are skipped.
func (s *Store) ApplyBatch(ctx context.Context, evs []*model.AnalyticsEvent) error {
	for _, ev := range evs {
		if _, err := s.Apply(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// GetAssessment returns copies of the assessment's counters.
func (s *Store) GetAssessment(_ context.Context, assessmentID string) (*model.AssessmentAnalytics, []model.QuestionAnalytics, error) {
	agg := s.aggregate(assessmentID)
	agg.mu.Lock()
	defer agg.mu.Unlock()

	totals := agg.totals
	questions := make([]model.QuestionAnalytics, 0, len(agg.questions))
	for _, qa := range agg.questions {
		questions = append(questions, *qa)
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].QuestionID < questions[j].QuestionID })
	return &totals, questions, nil
}

// GetDropoff returns the drop-off counters ordered by question position.
func (s *Store) GetDropoff(_ context.Context, assessmentID string) ([]model.DropoffCounter, error) {
	agg := s.aggregate(assessmentID)
	agg.mu.Lock()
	defer agg.mu.Unlock()

	out := make([]model.DropoffCounter, 0, len(agg.dropoff))
	for _, c := range agg.dropoff {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionIndex < out[j].QuestionIndex })
	return out, nil
}

// ─── Integrity ─────────────────────────────────────────────────────────

func (s *Store) InsertBatch(_ context.Context, events []*model.IntegrityEvent) error {
	s.integrityMu.Lock()
	defer s.integrityMu.Unlock()
	for _, e := range events {
		s.integrity = append(s.integrity, *e)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, e *model.IntegrityEvent) error {
	return s.InsertBatch(ctx, []*model.IntegrityEvent{e})
}

func (s *Store) CountByAttempt(_ context.Context, attemptID uuid.UUID) (int, error) {
	s.integrityMu.Lock()
	defer s.integrityMu.Unlock()
	n := 0
	for _, e := range s.integrity {
		if e.AttemptID == attemptID {
			n++
		}
	}
	return n, nil
}
