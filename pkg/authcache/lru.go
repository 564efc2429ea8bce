package authcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/carebridge/pkg/identity"
)

// LRUStore is a fixed-size Store that expires entries on its own
type LRUStore struct {
	cache *lru.LRU[string, *identity.Principal]
}

// NewLRUStore creates an LRU-backed store
func NewLRUStore(ttl time.Duration, size int) *LRUStore {
	if size <= 0 {
		size = 1000
	}
	return &LRUStore{cache: lru.NewLRU[string, *identity.Principal](size, nil, ttl)}
}

func (s *LRUStore) Get(_ context.Context, key string) (*identity.Principal, bool, error) {
	p, ok := s.cache.Get(key)
	return p, ok, nil
}

func (s *LRUStore) Set(_ context.Context, key string, p *identity.Principal) error {
	s.cache.Add(key, p)
	return nil
}

func (s *LRUStore) Delete(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

// Sweep is a no-op; the library expires entries in the background
func (s *LRUStore) Sweep(context.Context) (int, error) { return 0, nil }

func (s *LRUStore) Len() int { return s.cache.Len() }
