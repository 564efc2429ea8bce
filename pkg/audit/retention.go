package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/carebridge/pkg/observability"
)

// Archiver copies events somewhere durable before retention deletes them
type Archiver interface {
	Archive(ctx context.Context, events []*Event) error
}

// Retention deletes low and medium risk events older than a horizon
type Retention struct {
	store     Store
	archiver  Archiver
	recorder  Recorder
	batchSize int
	now       func() time.Time
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// RetentionOption configures a Retention
type RetentionOption func(*Retention)

// WithArchiver archives expired events before they are deleted
func WithArchiver(a Archiver) RetentionOption {
	return func(r *Retention) { r.archiver = a }
}

// WithRetentionClock overrides time.Now
func WithRetentionClock(now func() time.Time) RetentionOption {
	return func(r *Retention) { r.now = now }
}

// WithBatchSize sets how many events are archived per round
func WithBatchSize(n int) RetentionOption {
	return func(r *Retention) { r.batchSize = n }
}

// WithRetentionObservability sets the logger and metrics
func WithRetentionObservability(logger *observability.Logger, metrics *observability.Metrics) RetentionOption {
	return func(r *Retention) {
		if logger != nil {
			r.logger = logger.Component("audit-retention")
		}
		r.metrics = metrics
	}
}

func NewRetention(store Store, recorder Recorder, opts ...RetentionOption) *Retention {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	r := &Retention{
		store:     store,
		recorder:  recorder,
		batchSize: 500,
		now:       time.Now,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cutoff is the instant before which eligible events expire
func (r *Retention) Cutoff(horizonDays int) time.Time {
	return r.now().UTC().AddDate(0, 0, -horizonDays)
}

// Sweep archives (when configured) and deletes expired events, returning
// the number deleted
func (r *Retention) Sweep(ctx context.Context, horizonDays int) (int64, error) {
	if horizonDays <= 0 {
		return 0, fmt.Errorf("retention horizon must be positive, got %d", horizonDays)
	}
	cutoff := r.Cutoff(horizonDays)

	var (
		deleted int64
		err     error
	)
	if r.archiver != nil {
		deleted, err = r.archiveAndDelete(ctx, cutoff)
	} else {
		deleted, err = r.store.DeleteExpired(ctx, cutoff)
	}
	if err != nil {
		r.logger.WithError(err).Error("audit retention sweep failed")
		return deleted, err
	}

	r.metrics.RecordRetentionDeleted(deleted)
	r.logger.WithFields(map[string]interface{}{
		"deleted":      deleted,
		"horizon_days": horizonDays,
		"cutoff":       cutoff.Format(time.RFC3339),
	}).Info("audit retention sweep completed")

	r.recorder.Record(ctx, NewEvent(ActionAuditRetentionSweep, RiskLow).
		On(ResourceAuditLog, "").
		With("deleted", deleted).
		With("horizon_days", horizonDays).
		With("cutoff", cutoff.Format(time.RFC3339)).
		With("archived", r.archiver != nil))

	return deleted, nil
}

// archiveAndDelete works oldest first and deletes only what was archived
func (r *Retention) archiveAndDelete(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		batch, err := r.store.ListExpired(ctx, cutoff, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list expired audit logs: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		if err := r.archiver.Archive(ctx, batch); err != nil {
			return total, fmt.Errorf("failed to archive audit logs: %w", err)
		}

		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		n, err := r.store.DeleteArchived(ctx, ids)
		if err != nil {
			return total, err
		}
		total += n
		if len(batch) < r.batchSize || n == 0 {
			return total, nil
		}
	}
}

// Schedule registers a sweep on c using a standard five-field cron spec
func (r *Retention) Schedule(c *cron.Cron, spec string, horizonDays int) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		_, _ = r.Sweep(ctx, horizonDays)
	})
	if err != nil {
		return 0, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return id, nil
}
