package authcache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/carebridge/pkg/identity"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint("token-a"))
	assert.NotEqual(t, a, Fingerprint("token-b"))
}

func TestMemoryStore_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := NewMemoryStore(5*time.Minute, 10, WithClock(clock.Now))

	require.NoError(t, s.Set(ctx, "k", &identity.Principal{Subject: "u1"}))

	clock.Advance(5*time.Minute - time.Nanosecond)
	p, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok, "entry must hit just before TTL")
	assert.Equal(t, "u1", p.Subject)

	clock.Advance(time.Nanosecond)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry must miss exactly at TTL")
	assert.Equal(t, 0, s.Len(), "expired entry is evicted on read")
}

func TestMemoryStore_EvictsOldestFifth(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := NewMemoryStore(time.Hour, 10, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%d", i), &identity.Principal{Subject: "u"}))
		clock.Advance(time.Second)
	}
	assert.Equal(t, 10, s.Len())

	// the 11th entry pushes past the ceiling: 11/5 = 2 oldest go
	require.NoError(t, s.Set(ctx, "k10", &identity.Principal{Subject: "u"}))
	assert.Equal(t, 9, s.Len())

	for _, gone := range []string{"k0", "k1"} {
		_, ok, _ := s.Get(ctx, gone)
		assert.False(t, ok, gone)
	}
	_, ok, _ := s.Get(ctx, "k10")
	assert.True(t, ok)
}

func TestMemoryStore_SweepAndDelete(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := NewMemoryStore(time.Minute, 0, WithClock(clock.Now))

	require.NoError(t, s.Set(ctx, "old", &identity.Principal{Subject: "a"}))
	clock.Advance(2 * time.Minute)
	require.NoError(t, s.Set(ctx, "new", &identity.Principal{Subject: "b"}))
	require.NoError(t, s.Set(ctx, "gone", &identity.Principal{Subject: "c"}))
	require.NoError(t, s.Delete(ctx, "gone"))

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())
}

func TestLRUStore(t *testing.T) {
	ctx := context.Background()
	s := NewLRUStore(time.Minute, 2)

	require.NoError(t, s.Set(ctx, "a", &identity.Principal{Subject: "a"}))
	require.NoError(t, s.Set(ctx, "b", &identity.Principal{Subject: "b"}))
	require.NoError(t, s.Set(ctx, "c", &identity.Principal{Subject: "c"}))

	assert.Equal(t, 2, s.Len())
	_, ok, _ := s.Get(ctx, "a")
	assert.False(t, ok, "least recently used entry is evicted")

	require.NoError(t, s.Delete(ctx, "c"))
	_, ok, _ = s.Get(ctx, "c")
	assert.False(t, ok)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_Run(t *testing.T) {
	clock := newClock()
	s := NewMemoryStore(time.Minute, 0, WithClock(clock.Now))
	require.NoError(t, s.Set(context.Background(), "k", &identity.Principal{Subject: "a"}))
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(s, 5*time.Millisecond, nil, nil).Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
