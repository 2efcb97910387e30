// Package scheduler fires attempt expiry at each attempt's deadline.
//
// Entries live in a min-heap ordered by fire time. A single loop sleeps
// until the earliest entry is due and hands due entries to a bounded pool
// of workers, so a burst of simultaneous deadlines cannot spawn unbounded
// goroutines.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt-engine/internal/model"
)

// retryDelay is how long a failed expiry waits before firing again.
const retryDelay = 5 * time.Second

// Expirer performs the guarded IN_PROGRESS -> EXPIRED transition. It
// reports false when the attempt was left running (still inside its grace
// period, rescheduled through the timer) or was already closed.
type Expirer interface {
	ExpireAttempt(ctx context.Context, attemptID uuid.UUID) (bool, error)
}

// Loader lists the attempts that may need a timer.
type Loader interface {
	ListInProgressTimed(ctx context.Context) ([]model.Attempt, error)
}

type entry struct {
	id    uuid.UUID
	at    time.Time
	index int
}

type timerHeap []*entry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler keeps one timer per running timed attempt.
type Scheduler struct {
	mu      sync.Mutex
	heap    timerHeap
	entries map[uuid.UUID]*entry
	wake    chan struct{}
	workers int
	now     func() time.Time
	log     zerolog.Logger
}

// New creates a Scheduler that runs at most workers expiries at once.
func New(workers int, log zerolog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		entries: make(map[uuid.UUID]*entry),
		wake:    make(chan struct{}, 1),
		workers: workers,
		now:     time.Now,
		log:     log.With().Str("component", "expiry_scheduler").Logger(),
	}
}

// Schedule sets the fire time of an attempt, replacing any earlier entry.
func (s *Scheduler) Schedule(attemptID uuid.UUID, at time.Time) {
	s.mu.Lock()
	if e, ok := s.entries[attemptID]; ok {
		e.at = at
		heap.Fix(&s.heap, e.index)
	} else {
		e := &entry{id: attemptID, at: at}
		heap.Push(&s.heap, e)
		s.entries[attemptID] = e
	}
	s.mu.Unlock()
	s.signal()
}

// Cancel removes an attempt's timer. Unknown ids are ignored.
func (s *Scheduler) Cancel(attemptID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[attemptID]; ok {
		heap.Remove(&s.heap, e.index)
		delete(s.entries, attemptID)
	}
}

// Len returns the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Scheduled reports whether an attempt has a pending timer.
func (s *Scheduler) Scheduled(attemptID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[attemptID]
	return ok
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// popDue removes and returns the earliest entry if it is due, or the wait
// until it will be. An empty heap returns a negative wait.
func (s *Scheduler) popDue() (*entry, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return nil, -1
	}
	next := s.heap[0]
	if wait := next.at.Sub(s.now()); wait > 0 {
		return nil, wait
	}
	heap.Pop(&s.heap)
	delete(s.entries, next.id)
	return next, 0
}

// Run fires due timers until ctx is cancelled, then waits for running
// expiries to finish.
func (s *Scheduler) Run(ctx context.Context, expirer Expirer) {
	s.log.Info().Int("workers", s.workers).Msg("Expiry scheduler started")

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		s.log.Info().Msg("Expiry scheduler stopped")
	}()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		e, wait := s.popDue()
		if e != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(e *entry) {
				defer wg.Done()
				defer func() { <-sem }()
				s.fire(ctx, expirer, e)
			}(e)
			continue
		}

		if wait < 0 {
			wait = time.Hour
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, expirer Expirer, e *entry) {
	if _, err := expirer.ExpireAttempt(ctx, e.id); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error().Err(err).Str("attempt_id", e.id.String()).Msg("Expiry failed, retrying")
		s.Schedule(e.id, s.now().Add(retryDelay))
	}
}

// Sweep loads every running timed attempt, expires the overdue ones
// synchronously and schedules the rest. It returns how many were expired
// and how many were left with a timer; an overdue attempt still inside its
// grace period counts as scheduled.
func (s *Scheduler) Sweep(ctx context.Context, loader Loader, expirer Expirer) (expired, scheduled int, err error) {
	attempts, err := loader.ListInProgressTimed(ctx)
	if err != nil {
		return 0, 0, err
	}

	now := s.now()
	for i := range attempts {
		a := &attempts[i]
		if a.DeadlineAt == nil {
			continue
		}
		if a.DeadlineAt.After(now) {
			s.Schedule(a.ID, *a.DeadlineAt)
			scheduled++
			continue
		}
		committed, err := expirer.ExpireAttempt(ctx, a.ID)
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to expire overdue attempt")
			s.Schedule(a.ID, now.Add(retryDelay))
			continue
		}
		switch {
		case committed:
			expired++
		case s.Scheduled(a.ID):
			scheduled++
		}
	}
	return expired, scheduled, nil
}

// Rehydrate restores timers after a restart. Attempts whose deadline
// passed while the process was down are expired before it returns.
func (s *Scheduler) Rehydrate(ctx context.Context, loader Loader, expirer Expirer) error {
	expired, scheduled, err := s.Sweep(ctx, loader, expirer)
	if err != nil {
		return err
	}
	s.log.Info().
		Int("expired", expired).
		Int("scheduled", scheduled).
		Msg("Expiry timers rehydrated")
	return nil
}

// RunSweeper repeats Sweep every interval so that attempts started by
// other instances still expire here if their owner goes away.
func (s *Scheduler) RunSweeper(ctx context.Context, loader Loader, expirer Expirer, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, scheduled, err := s.Sweep(ctx, loader, expirer)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Error().Err(err).Msg("Expiry sweep failed")
				continue
			}
			if expired > 0 {
				s.log.Info().Int("expired", expired).Int("scheduled", scheduled).Msg("Expiry sweep")
			}
		}
	}
}
