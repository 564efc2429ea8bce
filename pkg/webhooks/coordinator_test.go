package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
)

// manualScheduler queues tasks until the test runs them
type manualScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	tasks  []func(context.Context) error
}

func (s *manualScheduler) Schedule(delay time.Duration, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, delay)
	s.tasks = append(s.tasks, fn)
}

// runNext runs the oldest queued task
func (s *manualScheduler) runNext(t *testing.T) error {
	t.Helper()
	s.mu.Lock()
	require.NotEmpty(t, s.tasks, "no scheduled task")
	fn := s.tasks[0]
	s.tasks = s.tasks[1:]
	s.mu.Unlock()
	return fn(context.Background())
}

func (s *manualScheduler) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

type coordFixture struct {
	coord     *Coordinator
	store     *MemoryRetryStore
	scheduler *manualScheduler
	events    *audit.MemoryStore
}

func newCoordFixture(maxAttempts int) *coordFixture {
	f := &coordFixture{
		store:     NewMemoryRetryStore(),
		scheduler: &manualScheduler{},
		events:    audit.NewMemoryStore(),
	}
	policy := NewRetryPolicy(RetryConfig{MaxAttempts: maxAttempts, InitialDelay: 5 * time.Second})
	f.coord = NewCoordinator(f.store, policy, f.scheduler, audit.SyncRecorder{Sink: f.events})
	return f
}

func (f *coordFixture) actions(action audit.Action) []*audit.Event {
	var out []*audit.Event
	for _, e := range f.events.All() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

var payload = json.RawMessage(`{"id":"user_1"}`)

func TestProcessEvent_Success(t *testing.T) {
	f := newCoordFixture(3)
	calls := 0

	res, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, func(ctx context.Context, eventType string, p json.RawMessage) error {
		calls++
		assert.Equal(t, "user.created", eventType)
		assert.JSONEq(t, `{"id":"user_1"}`, string(p))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, 0, f.scheduler.queued())
}

func TestProcessEvent_RetryBound(t *testing.T) {
	f := newCoordFixture(3)
	boom := errors.New("database unavailable")
	calls := 0
	handler := func(ctx context.Context, _ string, _ json.RawMessage) error {
		calls++
		return boom
	}

	res, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, handler)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWillRetry, res.Outcome)
	assert.Equal(t, 5*time.Second, res.RetryIn)
	assert.Equal(t, 1, f.store.Len())

	require.NoError(t, f.scheduler.runNext(t))
	assert.Equal(t, 2, calls)

	err = f.scheduler.runNext(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var perr *ProcessingError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "evt_1", perr.EventID)
	assert.Equal(t, 3, perr.Attempts)

	assert.Equal(t, 3, calls, "attempted exactly max attempts times")
	assert.Equal(t, 0, f.store.Len(), "no residual retry state")
	assert.Equal(t, 0, f.scheduler.queued())

	failed := f.actions(audit.ActionWebhookProcessingFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, audit.RiskCritical, failed[0].RiskLevel)
	assert.False(t, failed[0].Success)
	assert.Equal(t, "evt_1", failed[0].ResourceID)
}

func TestProcessEvent_SingleAttemptRaisesImmediately(t *testing.T) {
	f := newCoordFixture(1)
	boom := errors.New("timeout")

	res, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.updated", payload, func(context.Context, string, json.RawMessage) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 0, f.scheduler.queued())
	assert.Len(t, f.actions(audit.ActionWebhookProcessingFailed), 1)
}

func TestProcessEvent_RecoversOnRetry(t *testing.T) {
	f := newCoordFixture(3)
	calls := 0
	handler := func(context.Context, string, json.RawMessage) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}

	res, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, handler)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWillRetry, res.Outcome)

	require.NoError(t, f.scheduler.runNext(t))
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.actions(audit.ActionWebhookProcessingFailed))

	_, err = f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, handler)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, 2, calls)
}

func TestProcessEvent_NonRetryableNotScheduled(t *testing.T) {
	f := newCoordFixture(3)
	calls := 0
	handler := func(context.Context, string, json.RawMessage) error {
		calls++
		return apperrors.Conflict("user already exists")
	}

	res, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, handler)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, 0, f.scheduler.queued())
	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.actions(audit.ActionWebhookProcessingFailed))

	// rejected events are not remembered as processed
	_, err = f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, handler)
	assert.NotErrorIs(t, err, ErrAlreadyProcessed)
	assert.Equal(t, 2, calls)
}

func TestProcessEvent_RedeliveryWhilePending(t *testing.T) {
	f := newCoordFixture(3)
	calls := 0
	handler := func(context.Context, string, json.RawMessage) error {
		calls++
		return errors.New("transient")
	}

	_, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, handler)
	require.NoError(t, err)

	res, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, handler)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWillRetry, res.Outcome)
	assert.Equal(t, 1, calls, "redelivery does not run while a retry is pending")
	assert.Equal(t, 1, f.scheduler.queued(), "one pending retry per event")
}

func TestProcessEvent_ConcurrentDuplicate(t *testing.T) {
	f := newCoordFixture(3)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, func(context.Context, string, json.RawMessage) error {
			close(started)
			<-release
			return nil
		})
		done <- err
	}()

	<-started
	_, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, func(context.Context, string, json.RawMessage) error {
		t.Error("duplicate ran while the first delivery was in flight")
		return nil
	})
	assert.ErrorIs(t, err, ErrInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestCoordinator_SweepStale(t *testing.T) {
	f := newCoordFixture(3)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.coord.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, &RetryState{EventID: "old", LastAttempt: now.Add(-2 * time.Hour)}))
	require.NoError(t, f.store.Set(ctx, &RetryState{EventID: "new", LastAttempt: now.Add(-time.Minute)}))

	n, err := f.coord.SweepStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok, _ := f.store.Get(ctx, "new")
	assert.True(t, ok)
}

func TestProcessEvent_RetryRequeuedWhileInFlight(t *testing.T) {
	f := newCoordFixture(3)
	calls := 0
	handler := func(context.Context, string, json.RawMessage) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}

	res, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.updated", payload, handler)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWillRetry, res.Outcome)

	// the timer fires while a redelivery holds the event
	require.True(t, f.coord.acquire("evt_1"))
	require.NoError(t, f.scheduler.runNext(t))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, f.scheduler.queued(), "busy retry is queued again")
	f.coord.release("evt_1")

	require.NoError(t, f.scheduler.runNext(t))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, f.store.Len())

	_, err = f.coord.ProcessEvent(context.Background(), "evt_1", "user.updated", payload, handler)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestProcessEvent_OverduePendingTakenOver(t *testing.T) {
	f := newCoordFixture(3)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.coord.now = func() time.Time { return now }

	calls := 0
	handler := func(context.Context, string, json.RawMessage) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}

	_, err := f.coord.ProcessEvent(context.Background(), "evt_1", "user.updated", payload, handler)
	require.NoError(t, err)

	// a second instance sharing the store never saw the timer
	other := NewCoordinator(f.store, f.coord.policy, &manualScheduler{}, audit.SyncRecorder{Sink: f.events},
		WithPendingGrace(10*time.Second))
	other.now = func() time.Time { return now.Add(10 * time.Second) }

	res, err := other.ProcessEvent(context.Background(), "evt_1", "user.updated", payload, handler)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWillRetry, res.Outcome, "retry not yet overdue")
	assert.Equal(t, 1, calls)

	other.now = func() time.Time { return now.Add(16 * time.Second) }
	res, err = other.ProcessEvent(context.Background(), "evt_1", "user.updated", payload, handler)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, f.store.Len())

	// the original timer finds the attempt resolved and does nothing
	require.NoError(t, f.scheduler.runNext(t))
	assert.Equal(t, 2, calls)
}
