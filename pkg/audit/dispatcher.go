package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/carebridge/pkg/observability"
)

// Recorder accepts audit events. Record never blocks and never fails.
type Recorder interface {
	Record(ctx context.Context, e *Event)
}

// Sink persists or forwards events
type Sink interface {
	Write(ctx context.Context, e *Event) error
}

// NopRecorder discards events
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *Event) {}

// DispatcherConfig sizes the queue
type DispatcherConfig struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// Dispatcher queues events and writes them to a Sink on one worker
// goroutine. Events arriving while the queue is full or after Close are
// dropped and counted.
type Dispatcher struct {
	sink         Sink
	ch           chan *Event
	done         chan struct{}
	wg           sync.WaitGroup
	dropped      atomic.Uint64
	mu           sync.RWMutex // guards closed against enqueues racing Close
	closed       bool
	closeOnce    sync.Once
	writeTimeout time.Duration
	now          func() time.Time
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// NewDispatcher starts the worker. logger and metrics may be nil.
func NewDispatcher(sink Sink, cfg DispatcherConfig, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	d := &Dispatcher{
		sink:         sink,
		ch:           make(chan *Event, cfg.BufferSize),
		done:         make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		now:          time.Now,
		logger:       logger.Component("audit"),
		metrics:      metrics,
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case e := <-d.ch:
			d.write(e)
		case <-d.done:
			for {
				select {
				case e := <-d.ch:
					d.write(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(e *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()

	if err := d.sink.Write(ctx, e); err != nil {
		d.metrics.RecordAuditSinkError()
		d.logger.WithError(err).WithFields(map[string]interface{}{
			"audit_id": e.ID,
			"action":   string(e.Action),
		}).Error("failed to write audit event")
		return
	}
	d.metrics.RecordAuditWritten(string(e.RiskLevel))
}

// Record normalizes e and queues it
func (d *Dispatcher) Record(_ context.Context, e *Event) {
	if d == nil || e == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		d.metrics.RecordAuditDropped()
		return
	}
	e.normalize(d.now())

	if e.RiskLevel.Alerting() {
		d.logger.WithFields(map[string]interface{}{
			"alert":         "security",
			"request_id":    e.RequestID,
			"audit_id":      e.ID,
			"action":        string(e.Action),
			"risk_level":    string(e.RiskLevel),
			"resource_type": e.ResourceType,
			"resource_id":   e.ResourceID,
			"success":       e.Success,
		}).Warn("security alert")
	}

	select {
	case d.ch <- e:
	default:
		d.dropped.Add(1)
		d.metrics.RecordAuditDropped()
		d.logger.WithFields(map[string]interface{}{
			"audit_id": e.ID,
			"action":   string(e.Action),
		}).Warn("audit queue full, event dropped")
	}
}

// Dropped returns how many events were discarded
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Close stops accepting events and drains the queue until ctx is done
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.done)
		d.mu.Unlock()

		drained := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-ctx.Done():
			err = fmt.Errorf("audit queue not drained: %w", ctx.Err())
		}
	})
	return err
}

// MultiSink writes each event to every sink and joins their errors
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, e *Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes events as structured log lines
type LogSink struct {
	Logger *observability.Logger
}

func (s LogSink) Write(_ context.Context, e *Event) error {
	fields := map[string]interface{}{
		"audit_id":      e.ID,
		"action":        string(e.Action),
		"risk_level":    string(e.RiskLevel),
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
		"success":       e.Success,
		"request_id":    e.RequestID,
	}
	if e.UserID != nil {
		fields["user_id"] = *e.UserID
	}
	if e.ErrorMessage != "" {
		fields["error_message"] = e.ErrorMessage
	}
	s.Logger.WithFields(fields).Info("audit event")
	return nil
}

// SyncRecorder normalizes and writes events inline, ignoring sink errors
type SyncRecorder struct {
	Sink Sink
}

func (r SyncRecorder) Record(ctx context.Context, e *Event) {
	if e == nil || r.Sink == nil {
		return
	}
	e.normalize(time.Now())
	_ = r.Sink.Write(ctx, e)
}
