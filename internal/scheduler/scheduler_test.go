package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExpirer struct {
	mu    sync.Mutex
	fired []uuid.UUID
	fail  map[uuid.UUID]int
	// grace holds attempts that are overdue but still inside their grace
	// period; they are rescheduled on sched instead of expired.
	grace map[uuid.UUID]time.Time
	sched *Scheduler
}

func (r *recordingExpirer) ExpireAttempt(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[id] > 0 {
		r.fail[id]--
		return false, errors.New("store unavailable")
	}
	if at, ok := r.grace[id]; ok {
		r.sched.Schedule(id, at)
		return false, nil
	}
	r.fired = append(r.fired, id)
	return true, nil
}

func (r *recordingExpirer) firedIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.fired...)
}

type staticLoader []model.Attempt

func (l staticLoader) ListInProgressTimed(context.Context) ([]model.Attempt, error) {
	return l, nil
}

func runScheduler(t *testing.T, s *Scheduler, e Expirer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, e)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestScheduler_FiresInDeadlineOrder(t *testing.T) {
	s := New(1, zerolog.Nop())
	e := &recordingExpirer{}
	runScheduler(t, s, e)

	late, early := uuid.New(), uuid.New()
	now := time.Now()
	s.Schedule(late, now.Add(80*time.Millisecond))
	s.Schedule(early, now.Add(20*time.Millisecond))

	require.Eventually(t, func() bool { return len(e.firedIDs()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uuid.UUID{early, late}, e.firedIDs())
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_CancelPreventsFire(t *testing.T) {
	s := New(2, zerolog.Nop())
	e := &recordingExpirer{}
	runScheduler(t, s, e)

	cancelled, kept := uuid.New(), uuid.New()
	s.Schedule(cancelled, time.Now().Add(30*time.Millisecond))
	s.Schedule(kept, time.Now().Add(60*time.Millisecond))
	s.Cancel(cancelled)
	s.Cancel(uuid.New())

	require.Eventually(t, func() bool { return len(e.firedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []uuid.UUID{kept}, e.firedIDs())
}

func TestScheduler_RescheduleReplacesEntry(t *testing.T) {
	s := New(1, zerolog.Nop())
	id := uuid.New()

	s.Schedule(id, time.Now().Add(time.Hour))
	s.Schedule(id, time.Now().Add(20*time.Millisecond))
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Scheduled(id))

	e := &recordingExpirer{}
	runScheduler(t, s, e)
	require.Eventually(t, func() bool { return len(e.firedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, s.Scheduled(id))
}

func TestScheduler_ManySimultaneousDeadlines(t *testing.T) {
	s := New(4, zerolog.Nop())
	e := &recordingExpirer{}

	at := time.Now().Add(20 * time.Millisecond)
	for i := 0; i < 200; i++ {
		s.Schedule(uuid.New(), at)
	}
	runScheduler(t, s, e)

	require.Eventually(t, func() bool { return len(e.firedIDs()) == 200 }, 5*time.Second, 10*time.Millisecond)
}

func TestScheduler_FailedExpiryIsRetried(t *testing.T) {
	s := New(1, zerolog.Nop())
	id := uuid.New()
	e := &recordingExpirer{fail: map[uuid.UUID]int{id: 1}}

	base := time.Now()
	var mu sync.Mutex
	offset := time.Duration(0)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return base.Add(offset)
	}

	s.Schedule(id, base)
	runScheduler(t, s, e)

	require.Eventually(t, func() bool { return s.Scheduled(id) }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, e.firedIDs())

	mu.Lock()
	offset = retryDelay
	mu.Unlock()
	// Wake the loop so it re-reads the clock.
	s.signal()

	require.Eventually(t, func() bool { return len(e.firedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSweep_ExpiresOverdueAndSchedulesRest(t *testing.T) {
	s := New(1, zerolog.Nop())
	e := &recordingExpirer{}

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	overdue := model.Attempt{ID: uuid.New(), DeadlineAt: &past}
	running := model.Attempt{ID: uuid.New(), DeadlineAt: &future}
	untimed := model.Attempt{ID: uuid.New()}

	require.NoError(t, s.Rehydrate(context.Background(), staticLoader{overdue, running, untimed}, e))

	assert.Equal(t, []uuid.UUID{overdue.ID}, e.firedIDs())
	assert.True(t, s.Scheduled(running.ID))
	assert.False(t, s.Scheduled(untimed.ID))
	assert.Equal(t, 1, s.Len())
}

func TestSweep_ReschedulesFailedOverdue(t *testing.T) {
	s := New(1, zerolog.Nop())
	past := time.Now().Add(-time.Second)
	a := model.Attempt{ID: uuid.New(), DeadlineAt: &past}
	e := &recordingExpirer{fail: map[uuid.UUID]int{a.ID: 1}}

	expired, scheduled, err := s.Sweep(context.Background(), staticLoader{a}, e)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	assert.Equal(t, 0, scheduled)
	assert.True(t, s.Scheduled(a.ID))
}

func TestSweep_CountsGracePeriodAsScheduled(t *testing.T) {
	s := New(1, zerolog.Nop())
	now := time.Now()
	past := now.Add(-time.Second)
	inGrace := model.Attempt{ID: uuid.New(), DeadlineAt: &past}
	overdue := model.Attempt{ID: uuid.New(), DeadlineAt: &past}
	e := &recordingExpirer{
		grace: map[uuid.UUID]time.Time{inGrace.ID: now.Add(4 * time.Second)},
		sched: s,
	}

	expired, scheduled, err := s.Sweep(context.Background(), staticLoader{inGrace, overdue}, e)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, scheduled)
	assert.Equal(t, []uuid.UUID{overdue.ID}, e.firedIDs())
	assert.True(t, s.Scheduled(inGrace.ID))
	assert.False(t, s.Scheduled(overdue.ID))
}
