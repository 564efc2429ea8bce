package audit

import (
	"context"
	"time"
)

// Store is a queryable Sink
type Store interface {
	Sink
	Search(ctx context.Context, filter Filter, page Pagination) (*Page, error)
	Stats(ctx context.Context, filter Filter) (*Stats, error)
	// ListExpired returns up to limit retention-eligible events older than cutoff, oldest first
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error)
	// DeleteExpired removes retention-eligible events older than cutoff
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteArchived removes the given retention-eligible events by id
	DeleteArchived(ctx context.Context, ids []string) (int64, error)
}

// retentionEligible lists the risk levels retention may delete
var retentionEligible = []string{string(RiskLow), string(RiskMedium)}
