package authcache

import (
	"context"
	"time"

	"github.com/platinummonkey/carebridge/pkg/observability"
)

// Sweeper periodically calls Store.Sweep
type Sweeper struct {
	store    Store
	interval time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
}

func NewSweeper(store Store, interval time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Sweeper {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger.Component("authcache"),
		metrics:  metrics,
	}
}

// Run blocks until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("auth cache sweep failed")
		return
	}
	if n > 0 {
		s.metrics.RecordCacheSwept(n)
		s.logger.WithFields(map[string]interface{}{
			"swept":     n,
			"remaining": s.store.Len(),
		}).Debug("auth cache swept")
	}
}
