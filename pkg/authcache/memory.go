package authcache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/carebridge/pkg/identity"
)

// MemoryStore is an in-process Store with a TTL and an entry ceiling
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides time.Now
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a store. maxEntries <= 0 disables the ceiling.
func NewMemoryStore(ttl time.Duration, maxEntries int, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:    make(map[string]Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) live(e Entry, now time.Time) bool {
	return now.Before(e.InsertedAt.Add(s.ttl))
}

// Get returns the entry when now < insertedAt+TTL and drops it otherwise
func (s *MemoryStore) Get(_ context.Context, key string) (*identity.Principal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !s.live(e, s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.Principal, true, nil
}

// Set stores p. Going over the ceiling evicts the oldest 20%.
func (s *MemoryStore) Set(_ context.Context, key string, p *identity.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = Entry{Principal: p, InsertedAt: s.now()}
	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		n := len(s.entries) / 5
		if n < 1 {
			n = 1
		}
		s.evictOldest(n)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Sweep removes expired entries, then trims to the ceiling
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !s.live(e, now) {
			delete(s.entries, k)
			removed++
		}
	}
	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		over := len(s.entries) - s.maxEntries
		s.evictOldest(over)
		removed += over
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictOldest must be called with mu held
func (s *MemoryStore) evictOldest(n int) {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.entries[keys[i]].InsertedAt.Before(s.entries[keys[j]].InsertedAt)
	})
	if n > len(keys) {
		n = len(keys)
	}
	for _, k := range keys[:n] {
		delete(s.entries, k)
	}
}
