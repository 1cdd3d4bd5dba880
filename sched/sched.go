// Package sched provides a single-goroutine scheduler for delayed
// callbacks: one timer, many pending fires, instead of one sleeping
// goroutine per delayed action. Used for cooldown re-delivery and alias
// step delays.
package sched

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/patchbay-tv/chatbot/telemetry"
)

type task struct {
	at  time.Time
	seq uint64
	fn  func()
}

type taskHeap []task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any) { *h = append(*h, x.(task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// Scheduler runs scheduled callbacks from one goroutine in due order.
// Callbacks are fire-and-forget; there is no cancellation of an individual
// pending fire.
type Scheduler struct {
	mu    sync.Mutex
	tasks taskHeap
	seq   uint64
	wake  chan struct{}
	now   func() time.Time
}

// New returns a stopped scheduler; call Run to start delivering.
func New() *Scheduler {
	return &Scheduler{wake: make(chan struct{}, 1), now: time.Now}
}

// After schedules fn to run no earlier than d from now. Zero or negative
// delays fire on the next scheduler wakeup.
func (s *Scheduler) After(d time.Duration, fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.seq++
	heap.Push(&s.tasks, task{at: s.now().Add(d), seq: s.seq, fn: fn})
	telemetry.SetScheduledFires(len(s.tasks))
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of callbacks not yet fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Run delivers due callbacks until ctx is canceled. Callbacks run on the
// scheduler goroutine; long work should be handed off by the callback.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		var fire func()
		var wait time.Duration

		s.mu.Lock()
		if len(s.tasks) > 0 {
			next := s.tasks[0]
			if until := next.at.Sub(s.now()); until <= 0 {
				heap.Pop(&s.tasks)
				telemetry.SetScheduledFires(len(s.tasks))
				fire = next.fn
			} else {
				wait = until
			}
		} else {
			wait = time.Hour
		}
		s.mu.Unlock()

		if fire != nil {
			s.safeRun(fire)
			continue
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

func (s *Scheduler) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduled callback panicked", slog.Any("panic", r), slog.String("component", "sched"))
		}
	}()
	fn()
}
