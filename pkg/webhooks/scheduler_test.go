package webhooks

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerScheduler_Runs(t *testing.T) {
	s := NewTimerScheduler(time.Second)
	var ran atomic.Int32

	s.Schedule(10*time.Millisecond, func(context.Context) error {
		ran.Add(1)
		return nil
	})
	assert.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestTimerScheduler_StopCancelsPending(t *testing.T) {
	s := NewTimerScheduler(time.Second)
	var ran atomic.Int32

	s.Schedule(time.Hour, func(context.Context) error {
		ran.Add(1)
		return nil
	})
	assert.Equal(t, 1, s.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, 0, s.Pending())

	s.Schedule(time.Millisecond, func(context.Context) error {
		ran.Add(1)
		return nil
	})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}

func TestTimerScheduler_DrivesCoordinatorRetry(t *testing.T) {
	s := NewTimerScheduler(time.Second)
	store := NewMemoryRetryStore()
	coord := NewCoordinator(store, NewRetryPolicy(RetryConfig{MaxAttempts: 2, InitialDelay: 10 * time.Millisecond}), s, nil)

	var calls atomic.Int32
	_, err := coord.ProcessEvent(context.Background(), "evt_1", "user.created", payload, func(context.Context, string, json.RawMessage) error {
		if calls.Add(1) == 1 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return calls.Load() == 2 && store.Len() == 0 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
