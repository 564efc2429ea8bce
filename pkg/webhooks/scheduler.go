package webhooks

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/carebridge/pkg/async"
)

// Scheduler runs fn once after delay, outside the request that asked
type Scheduler interface {
	Schedule(delay time.Duration, fn func(context.Context) error)
}

// TimerScheduler schedules with time.AfterFunc and runs each task through
// an async.Tracker so shutdown can wait for in-flight retries
type TimerScheduler struct {
	timeout time.Duration
	tasks   async.Tracker

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// NewTimerScheduler bounds each task with timeout
func NewTimerScheduler(timeout time.Duration) *TimerScheduler {
	return &TimerScheduler{timeout: timeout, timers: make(map[*time.Timer]struct{})}
}

func (s *TimerScheduler) Schedule(delay time.Duration, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.tasks.Go(context.Background(), s.timeout, "webhook retry", fn)
	})
	s.timers[t] = struct{}{}
}

// Pending returns the number of timers that have not fired
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels timers that have not fired and waits for running tasks
func (s *TimerScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[*time.Timer]struct{})
	s.mu.Unlock()

	return s.tasks.Wait(ctx)
}
