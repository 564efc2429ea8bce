package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/carebridge/pkg/observability"
)

var pkgLogger atomic.Pointer[observability.Logger]

func init() {
	pkgLogger.Store(observability.NewLogger(observability.InfoLevel, nil).Component("async"))
}

// SetLogger replaces the logger used to report task errors and panics
func SetLogger(logger *observability.Logger) {
	if logger != nil {
		pkgLogger.Store(logger.Component("async"))
	}
}

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(ctx, 30*time.Second, "webhook retry", func(ctx context.Context) error {
//	    return coordinator.retry(ctx, eventID)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, timeout, taskName, fn)
}

func run(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	logger := pkgLogger.Load().WithField("task", taskName)

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", fmt.Sprint(r)).
				WithField("stack", string(debug.Stack())).
				Error("PANIC in background task")
		}
	}()

	if err := fn(ctx); err != nil {
		logger.WithError(err).Warn("background task failed")
	}
}

// Tracker runs SafeGo tasks and lets shutdown wait for the ones in flight.
// The zero value is ready to use.
type Tracker struct {
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Go starts fn like SafeGo. It returns false without running fn once Wait
// has been called.
func (t *Tracker) Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) bool {
	if t.closed.Load() {
		return false
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		run(parentCtx, timeout, taskName, fn)
	}()
	return true
}

// Wait stops accepting new tasks and blocks until running tasks finish or
// ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	t.closed.Store(true)

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background tasks still running: %w", ctx.Err())
	}
}
