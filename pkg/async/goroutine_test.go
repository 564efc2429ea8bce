package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSafeGo_Success(t *testing.T) {
	done := make(chan struct{})

	SafeGo(context.Background(), time.Second, "test task", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("SafeGo did not execute function")
	}
}

func TestSafeGo_Timeout(t *testing.T) {
	cancelled := make(chan struct{})

	SafeGo(context.Background(), 20*time.Millisecond, "slow task", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("task context was not cancelled at its timeout")
	}
}

func TestTracker_WaitsForTasks(t *testing.T) {
	var tr Tracker
	var finished atomic.Int32

	for i := 0; i < 3; i++ {
		tr.Go(context.Background(), time.Second, "tracked", func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			finished.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if finished.Load() != 3 {
		t.Errorf("expected 3 finished tasks, got %d", finished.Load())
	}

	if tr.Go(context.Background(), time.Second, "late", func(ctx context.Context) error { return nil }) {
		t.Error("Go should refuse tasks after Wait")
	}
}

func TestTracker_RecoversPanicsAndErrors(t *testing.T) {
	var tr Tracker

	tr.Go(context.Background(), time.Second, "panics", func(ctx context.Context) error {
		panic("boom")
	})
	tr.Go(context.Background(), time.Second, "fails", func(ctx context.Context) error {
		return errors.New("transient")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestTracker_WaitTimeout(t *testing.T) {
	var tr Tracker
	release := make(chan struct{})
	defer close(release)

	tr.Go(context.Background(), time.Minute, "stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tr.Wait(ctx); err == nil {
		t.Error("expected Wait to time out")
	}
}
