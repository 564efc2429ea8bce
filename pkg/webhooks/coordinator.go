package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
	"github.com/platinummonkey/carebridge/pkg/audit"
	"github.com/platinummonkey/carebridge/pkg/observability"
)

var (
	// ErrAlreadyProcessed is returned for redelivery of a completed event
	ErrAlreadyProcessed = apperrors.Conflict("webhook event already processed")
	// ErrInProgress is returned while another delivery of the event runs
	ErrInProgress = apperrors.Conflict("webhook event is being processed")
)

// EventHandler applies one event
type EventHandler func(ctx context.Context, eventType string, payload json.RawMessage) error

// Outcome is the state an event is left in after ProcessEvent
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeWillRetry Outcome = "will_retry"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Result describes a ProcessEvent call
type Result struct {
	Outcome  Outcome
	Attempts int
	// RetryIn is set when Outcome is OutcomeWillRetry
	RetryIn time.Duration
}

// ProcessingError reports an event that exhausted its attempts
type ProcessingError struct {
	EventID  string
	Attempts int
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("webhook event %s failed after %d attempts: %v", e.EventID, e.Attempts, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// CoordinatorConfig bounds the processed-event set
type CoordinatorConfig struct {
	ProcessedSize int
	ProcessedTTL  time.Duration
}

// Coordinator runs event handlers with bounded retries. Each event id has
// at most one scheduled retry.
type Coordinator struct {
	store     RetryStore
	policy    *RetryPolicy
	scheduler Scheduler
	recorder  audit.Recorder
	processed *expirable.LRU[string, struct{}]
	grace     time.Duration
	now       func() time.Time
	logger    *observability.Logger
	metrics   *observability.Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithProcessedSet sizes the processed-event dedupe set
func WithProcessedSet(cfg CoordinatorConfig) CoordinatorOption {
	return func(c *Coordinator) {
		if cfg.ProcessedSize <= 0 {
			cfg.ProcessedSize = 10000
		}
		if cfg.ProcessedTTL <= 0 {
			cfg.ProcessedTTL = 24 * time.Hour
		}
		c.processed = expirable.NewLRU[string, struct{}](cfg.ProcessedSize, nil, cfg.ProcessedTTL)
	}
}

// WithPendingGrace sets how long past its due time a pending retry may go
// unfired before a redelivery takes the attempt over
func WithPendingGrace(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithCoordinatorObservability sets the logger and metrics
func WithCoordinatorObservability(logger *observability.Logger, metrics *observability.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger.Component("webhooks")
		}
		c.metrics = metrics
	}
}

func NewCoordinator(store RetryStore, policy *RetryPolicy, scheduler Scheduler, recorder audit.Recorder, opts ...CoordinatorOption) *Coordinator {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	c := &Coordinator{
		store:     store,
		policy:    policy,
		scheduler: scheduler,
		recorder:  recorder,
		processed: expirable.NewLRU[string, struct{}](10000, nil, 24*time.Hour),
		grace:     30 * time.Second,
		now:       time.Now,
		logger:    observability.NopLogger(),
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProcessEvent runs handler for an inbound delivery. A retryable failure
// with attempts left schedules one retry and returns OutcomeWillRetry with
// a nil error. Non-retryable failures are returned as is; exhaustion
// returns a *ProcessingError.
//
// A redelivery while a retry is pending returns OutcomeWillRetry without
// running handler, unless the retry is overdue by more than the pending
// grace. An overdue retry is assumed lost and the redelivery runs it.
func (c *Coordinator) ProcessEvent(ctx context.Context, eventID, eventType string, payload json.RawMessage, handler EventHandler) (Result, error) {
	return c.process(ctx, eventID, eventType, payload, handler, 0)
}

// process runs one attempt. retryOf is the attempt number a scheduled retry
// follows, or zero for an inbound delivery.
func (c *Coordinator) process(ctx context.Context, eventID, eventType string, payload json.RawMessage, handler EventHandler, retryOf int) (res Result, err error) {
	fromRetry := retryOf > 0
	ctx, span := observability.Tracer().Start(ctx, "Coordinator.ProcessEvent")
	span.SetAttributes(
		attribute.String("webhook.event_id", eventID),
		attribute.String("webhook.event_type", eventType),
		attribute.Bool("webhook.retry", fromRetry),
	)
	defer func() { observability.EndSpan(span, err) }()

	if c.processed.Contains(eventID) {
		return Result{Outcome: OutcomeProcessed}, ErrAlreadyProcessed
	}
	if !c.acquire(eventID) {
		return Result{}, ErrInProgress
	}
	defer c.release(eventID)

	state, ok, err := c.store.Get(ctx, eventID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load retry state: %w", err)
	}
	switch {
	case fromRetry && (!ok || state.Attempts != retryOf):
		// another delivery resolved or took over the attempt
		c.logger.WithField("event_id", eventID).Debug("scheduled webhook retry superseded")
		return Result{Attempts: retryOf}, nil
	case !ok:
		state = &RetryState{EventID: eventID, EventType: eventType, Payload: payload}
	case state.Pending && !fromRetry:
		if !c.overdue(state) {
			return Result{Outcome: OutcomeWillRetry, Attempts: state.Attempts}, nil
		}
		c.logger.WithFields(map[string]interface{}{
			"event_id": eventID,
			"attempt":  state.Attempts,
		}).Warn("pending webhook retry overdue, redelivery taking over")
	}

	state.Attempts++
	state.LastAttempt = c.now()
	state.Pending = false
	span.SetAttributes(attribute.Int("webhook.attempt", state.Attempts))

	herr := handler(ctx, eventType, payload)
	if herr == nil {
		c.metrics.RecordWebhookAttempt(eventType, "success")
		c.processed.Add(eventID, struct{}{})
		if err := c.store.Delete(ctx, eventID); err != nil {
			c.logger.WithError(err).WithField("event_id", eventID).Warn("failed to clear retry state")
		}
		return Result{Outcome: OutcomeProcessed, Attempts: state.Attempts}, nil
	}

	log := c.logger.WithError(herr).WithFields(map[string]interface{}{
		"event_id":   eventID,
		"event_type": eventType,
		"attempt":    state.Attempts,
	})

	if !c.policy.Retryable(herr) {
		c.metrics.RecordWebhookAttempt(eventType, "rejected")
		log.Info("webhook event rejected")
		if err := c.store.Delete(ctx, eventID); err != nil {
			log.WithError(err).Warn("failed to clear retry state")
		}
		return Result{Outcome: OutcomeRejected, Attempts: state.Attempts}, herr
	}

	if state.Attempts < c.policy.MaxAttempts() {
		delay := c.policy.NextRetryDelay(state.Attempts)
		state.LastError = herr.Error()
		state.Pending = true
		if err := c.store.Set(ctx, state); err != nil {
			return Result{}, fmt.Errorf("failed to save retry state: %w", err)
		}

		c.metrics.RecordWebhookAttempt(eventType, "retry")
		c.metrics.RecordRetryScheduled()
		log.WithField("retry_in", delay.String()).Warn("webhook processing failed, retry scheduled")

		c.scheduleRetry(delay, eventID, eventType, payload, handler, state.Attempts)
		return Result{Outcome: OutcomeWillRetry, Attempts: state.Attempts, RetryIn: delay}, nil
	}

	if err := c.store.Delete(ctx, eventID); err != nil {
		log.WithError(err).Warn("failed to clear retry state")
	}
	c.metrics.RecordWebhookAttempt(eventType, "exhausted")
	c.metrics.RecordRetryExhausted()
	log.Error("webhook processing failed permanently")
	c.recorder.Record(ctx, audit.NewEvent(audit.ActionWebhookProcessingFailed, audit.RiskCritical).
		On(audit.ResourceWebhook, eventID).
		With("event_type", eventType).
		With("attempts", state.Attempts).
		Failed(herr))

	return Result{Outcome: OutcomeFailed, Attempts: state.Attempts}, &ProcessingError{
		EventID:  eventID,
		Attempts: state.Attempts,
		Err:      herr,
	}
}

// scheduleRetry queues the attempt after attempt. A retry that finds the
// event in flight is queued again rather than dropped.
func (c *Coordinator) scheduleRetry(delay time.Duration, eventID, eventType string, payload json.RawMessage, handler EventHandler, attempt int) {
	c.scheduler.Schedule(delay, func(ctx context.Context) error {
		c.metrics.RecordRetryFired()
		_, err := c.process(ctx, eventID, eventType, payload, handler, attempt)
		if errors.Is(err, ErrInProgress) {
			c.logger.WithField("event_id", eventID).Debug("webhook event busy, retry requeued")
			c.scheduleRetry(c.policy.NextRetryDelay(attempt), eventID, eventType, payload, handler, attempt)
			return nil
		}
		return err
	})
}

// overdue reports whether a pending retry is past its due time plus grace
func (c *Coordinator) overdue(state *RetryState) bool {
	due := state.LastAttempt.Add(c.policy.NextRetryDelay(state.Attempts) + c.grace)
	return c.now().After(due)
}

func (c *Coordinator) acquire(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[eventID]; busy {
		return false
	}
	c.inflight[eventID] = struct{}{}
	return true
}

func (c *Coordinator) release(eventID string) {
	c.mu.Lock()
	delete(c.inflight, eventID)
	c.mu.Unlock()
}

// SweepStale drops retry state whose last attempt is older than age
func (c *Coordinator) SweepStale(ctx context.Context, age time.Duration) (int, error) {
	return c.store.Sweep(ctx, c.now().Add(-age))
}
