package audit

import "context"

// Service is the read side of the audit trail
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// GetAuditLogs returns one page of matching events, newest first
func (s *Service) GetAuditLogs(ctx context.Context, f Filter, p Pagination) (*Page, error) {
	return s.store.Search(ctx, f, p.Normalize())
}

// GetAuditStats aggregates matching events
func (s *Service) GetAuditStats(ctx context.Context, f Filter) (*Stats, error) {
	return s.store.Stats(ctx, f)
}
