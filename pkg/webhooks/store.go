package webhooks

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// RetryState tracks one event between attempts
type RetryState struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastAttempt time.Time       `json:"last_attempt"`
	LastError   string          `json:"last_error,omitempty"`
	// Pending is set while a retry is scheduled
	Pending bool `json:"pending"`
}

// RetryStore persists RetryState by event id
type RetryStore interface {
	Get(ctx context.Context, eventID string) (*RetryState, bool, error)
	Set(ctx context.Context, state *RetryState) error
	Delete(ctx context.Context, eventID string) error
	// Sweep removes states whose last attempt is before olderThan
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// MemoryRetryStore is a process-local RetryStore
type MemoryRetryStore struct {
	mu     sync.Mutex
	states map[string]RetryState
}

func NewMemoryRetryStore() *MemoryRetryStore {
	return &MemoryRetryStore{states: make(map[string]RetryState)}
}

func (s *MemoryRetryStore) Get(_ context.Context, eventID string) (*RetryState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[eventID]
	if !ok {
		return nil, false, nil
	}
	return &st, true, nil
}

func (s *MemoryRetryStore) Set(_ context.Context, state *RetryState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.EventID] = *state
	return nil
}

func (s *MemoryRetryStore) Delete(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, eventID)
	return nil
}

func (s *MemoryRetryStore) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, st := range s.states {
		if st.LastAttempt.Before(olderThan) {
			delete(s.states, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked events
func (s *MemoryRetryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
