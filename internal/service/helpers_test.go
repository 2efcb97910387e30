package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/catalog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stemsi/exstem-attempt-engine/internal/repository/memory"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: baseTime} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*model.AttemptEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev *model.AttemptEvent) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types(attemptID uuid.UUID) []model.AttemptEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.AttemptEventType
	for _, ev := range p.events {
		if ev.AttemptID == attemptID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (p *recordingPublisher) count(attemptID uuid.UUID, types ...model.AttemptEventType) int {
	n := 0
	for _, t := range p.types(attemptID) {
		for _, want := range types {
			if t == want {
				n++
			}
		}
	}
	return n
}

type recordingTimer struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID]time.Time
	cancelled map[uuid.UUID]bool
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{scheduled: map[uuid.UUID]time.Time{}, cancelled: map[uuid.UUID]bool{}}
}

func (t *recordingTimer) Schedule(id uuid.UUID, at time.Time) {
	t.mu.Lock()
	t.scheduled[id] = at
	t.mu.Unlock()
}

func (t *recordingTimer) Cancel(id uuid.UUID) {
	t.mu.Lock()
	t.cancelled[id] = true
	t.mu.Unlock()
}

func (t *recordingTimer) at(id uuid.UUID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.scheduled[id]
	return at, ok
}

func (t *recordingTimer) wasCancelled(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled[id]
}

type harness struct {
	store     *memory.Store
	source    *catalog.MemorySource
	clock     *testClock
	publisher *recordingPublisher
	timer     *recordingTimer
	analytics *AnalyticsService
	grading   *GradingService
	attempts  *AttemptService
	ledger    *LedgerService
}

func newHarness(t *testing.T, defs ...*model.AssessmentDefinition) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		source:    catalog.NewMemorySource(defs...),
		clock:     newTestClock(),
		publisher: &recordingPublisher{},
		timer:     newRecordingTimer(),
	}
	h.wire(h.clock.Now)
	return h
}

// wire builds the services over the harness store with the given clock.
func (h *harness) wire(now Clock) {
	log := zerolog.Nop()
	h.analytics = NewAnalyticsService(h.source, h.store, h.store, h.store, nil, log)
	h.grading = NewGradingService(h.store, h.store, h.store, h.source, h.analytics, h.publisher, now, log)
	h.attempts = NewAttemptService(h.store, h.store, h.source, h.grading, h.analytics, h.timer, h.publisher, now, log)
	h.ledger = NewLedgerService(h.store, h.store, h.source, h.publisher, now, log)
}

// peer returns a second set of services sharing storage and events but
// reading a different clock, like a second replica.
func (h *harness) peer(now Clock) *harness {
	p := &harness{
		store:     h.store,
		source:    h.source,
		publisher: h.publisher,
		timer:     newRecordingTimer(),
	}
	p.wire(now)
	return p
}

func mcqQuestion(id string, marks float64, correct string, options ...string) model.Question {
	q := model.Question{ID: id, Type: model.QuestionTypeMCQ, Marks: marks}
	for _, o := range options {
		q.Options = append(q.Options, model.Option{ID: o, Correct: o == correct})
	}
	return q
}

// twoMCQQuiz has two 2-mark questions whose correct option is "b".
func twoMCQQuiz(id string) *model.AssessmentDefinition {
	return &model.AssessmentDefinition{
		ID:            id,
		Title:         "Two questions",
		Kind:          model.AssessmentKindQuiz,
		PassingScore:  2,
		GradingPolicy: model.GradingPolicyAuto,
		Published:     true,
		Questions: []model.Question{
			mcqQuestion("q1", 2, "b", "a", "b", "c"),
			mcqQuestion("q2", 2, "b", "a", "b", "c"),
		},
	}
}

func timedExam(id string, seconds int) *model.AssessmentDefinition {
	return &model.AssessmentDefinition{
		ID:               id,
		Title:            "Timed exam",
		Kind:             model.AssessmentKindExam,
		TimeLimitSeconds: seconds,
		PassingScore:     1,
		GradingPolicy:    model.GradingPolicyAuto,
		Published:        true,
		Questions: []model.Question{
			mcqQuestion("e1", 1, "a", "a", "b"),
			mcqQuestion("e2", 1, "a", "a", "b"),
		},
	}
}

func mixedExam(id string) *model.AssessmentDefinition {
	return &model.AssessmentDefinition{
		ID:            id,
		Title:         "Mixed exam",
		Kind:          model.AssessmentKindExam,
		PassingScore:  8,
		GradingPolicy: model.GradingPolicyMixed,
		Published:     true,
		Questions: []model.Question{
			mcqQuestion("m1", 5, "a", "a", "b"),
			{
				ID:    "essay",
				Type:  model.QuestionTypeEssay,
				Marks: 10,
			},
		},
	}
}

func rubricExam(id string) *model.AssessmentDefinition {
	return &model.AssessmentDefinition{
		ID:            id,
		Title:         "Rubric exam",
		Kind:          model.AssessmentKindExam,
		PassingScore:  25,
		GradingPolicy: model.GradingPolicyManual,
		Published:     true,
		Questions: []model.Question{{
			ID:    "essay",
			Type:  model.QuestionTypeEssay,
			Marks: 50,
			Rubric: []model.RubricCriterion{
				{Key: "clarity", MaxPoints: 20},
				{Key: "accuracy", MaxPoints: 30},
			},
		}},
	}
}
