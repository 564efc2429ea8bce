package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps events in process
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Write(_ context.Context, e *Event) error {
	cp := *e
	s.mu.Lock()
	s.events = append(s.events, &cp)
	s.mu.Unlock()
	return nil
}

// All returns every stored event in insertion order
func (s *MemoryStore) All() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

func matches(e *Event, f Filter) bool {
	if f.UserID != "" && (e.UserID == nil || *e.UserID != f.UserID) {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if f.RiskLevel != "" && e.RiskLevel != f.RiskLevel {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

func (s *MemoryStore) filtered(f Filter) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events {
		if matches(e, f) {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) Search(_ context.Context, f Filter, p Pagination) (*Page, error) {
	p = p.Normalize()
	events := s.filtered(f)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})

	total := int64(len(events))
	start := p.Offset()
	if start > len(events) {
		start = len(events)
	}
	end := start + p.PageSize
	if end > len(events) {
		end = len(events)
	}
	page := make([]*Event, end-start)
	copy(page, events[start:end])
	return newPage(page, total, p), nil
}

func (s *MemoryStore) Stats(_ context.Context, f Filter) (*Stats, error) {
	stats := newStats()
	users := map[string]struct{}{}
	ips := map[string]struct{}{}

	for _, e := range s.filtered(f) {
		stats.TotalEvents++
		stats.EventsByAction[e.Action]++
		stats.EventsByRisk[e.RiskLevel]++
		if !e.Success {
			stats.FailedEvents++
		}
		if e.UserID != nil {
			users[*e.UserID] = struct{}{}
		}
		if e.IPAddress != "" {
			ips[e.IPAddress] = struct{}{}
		}
	}
	stats.UniqueUsers = int64(len(users))
	stats.UniqueIPs = int64(len(ips))
	return stats, nil
}

func expired(e *Event, cutoff time.Time) bool {
	return e.Timestamp.Before(cutoff) && !e.RiskLevel.Alerting()
}

func (s *MemoryStore) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, e := range s.events {
		if expired(e, cutoff) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(func(e *Event) bool { return expired(e, cutoff) }), nil
}

func (s *MemoryStore) deleteWhere(match func(*Event) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if match(e) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = nil
	}
	s.events = kept
	return deleted
}

func (s *MemoryStore) DeleteArchived(_ context.Context, ids []string) (int64, error) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return s.deleteWhere(func(e *Event) bool {
		_, ok := set[e.ID]
		return ok && !e.RiskLevel.Alerting()
	}), nil
}
