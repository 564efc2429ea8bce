package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// The Record*/Observe* helpers are safe on a nil *Metrics so components can
// be constructed without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Identity metrics
	AuthCacheLookupsTotal  *prometheus.CounterVec
	AuthCacheSweptTotal    prometheus.Counter
	AuthFailuresTotal      *prometheus.CounterVec
	TokenVerifyDuration    prometheus.Histogram
	SyncOutcomesTotal      *prometheus.CounterVec
	ConsistencyMismatches  *prometheus.CounterVec

	// Authorization metrics
	PermissionDecisionsTotal *prometheus.CounterVec

	// Audit metrics
	AuditEventsTotal       *prometheus.CounterVec
	AuditEventsDropped     prometheus.Counter
	AuditSinkErrorsTotal   prometheus.Counter
	AuditRetentionDeleted  prometheus.Counter

	// Webhook metrics
	WebhookAttemptsTotal   *prometheus.CounterVec
	WebhookRetriesTotal    prometheus.Counter
	WebhookExhaustedTotal  prometheus.Counter
	WebhookPendingRetries  prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carebridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carebridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carebridge_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		AuthCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carebridge_auth_cache_lookups_total",
				Help: "Auth cache lookups by result (hit, miss)",
			},
			[]string{"result"},
		),
		AuthCacheSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "carebridge_auth_cache_swept_total",
				Help: "Auth cache entries removed by the sweeper",
			},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carebridge_auth_failures_total",
				Help: "Authentication failures by reason",
			},
			[]string{"reason"},
		),
		TokenVerifyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "carebridge_token_verify_duration_seconds",
				Help:    "Identity provider token verification duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),
		SyncOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carebridge_user_sync_total",
				Help: "User sync outcomes by source and result",
			},
			[]string{"source", "result"},
		),
		ConsistencyMismatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carebridge_consistency_mismatches_total",
				Help: "Local/provider field mismatches found after sync",
			},
			[]string{"field"},
		),

		PermissionDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carebridge_permission_decisions_total",
				Help: "Authorization decisions by policy, decision and reason",
			},
			[]string{"policy", "decision", "reason"},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carebridge_audit_events_total",
				Help: "Audit events written to the sink by risk level",
			},
			[]string{"risk_level"},
		),
		AuditEventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "carebridge_audit_events_dropped_total",
				Help: "Audit events dropped because the buffer was full",
			},
		),
		AuditSinkErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "carebridge_audit_sink_errors_total",
				Help: "Audit events the sink failed to persist",
			},
		),
		AuditRetentionDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "carebridge_audit_retention_deleted_total",
				Help: "Audit rows removed by retention sweeps",
			},
		),

		WebhookAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carebridge_webhook_attempts_total",
				Help: "Webhook processing attempts by event type and result",
			},
			[]string{"event_type", "result"},
		),
		WebhookRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "carebridge_webhook_retries_scheduled_total",
				Help: "Webhook retries scheduled",
			},
		),
		WebhookExhaustedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "carebridge_webhook_retries_exhausted_total",
				Help: "Webhook events that exhausted their retry budget",
			},
		),
		WebhookPendingRetries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "carebridge_webhook_pending_retries",
				Help: "Webhook retries currently scheduled",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "carebridge_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "carebridge_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthCacheLookupsTotal,
		m.AuthCacheSweptTotal,
		m.AuthFailuresTotal,
		m.TokenVerifyDuration,
		m.SyncOutcomesTotal,
		m.ConsistencyMismatches,
		m.PermissionDecisionsTotal,
		m.AuditEventsTotal,
		m.AuditEventsDropped,
		m.AuditSinkErrorsTotal,
		m.AuditRetentionDeleted,
		m.WebhookAttemptsTotal,
		m.WebhookRetriesTotal,
		m.WebhookExhaustedTotal,
		m.WebhookPendingRetries,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// RecordCacheLookup counts an auth cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.AuthCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordCacheSwept counts entries removed by a sweep
func (m *Metrics) RecordCacheSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AuthCacheSweptTotal.Add(float64(n))
}

// RecordAuthFailure counts a rejected authentication attempt
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveTokenVerify records how long the provider call took
func (m *Metrics) ObserveTokenVerify(d time.Duration) {
	if m == nil {
		return
	}
	m.TokenVerifyDuration.Observe(d.Seconds())
}

// RecordSync counts a sync outcome. source is "request" or "webhook".
func (m *Metrics) RecordSync(source, result string) {
	if m == nil {
		return
	}
	m.SyncOutcomesTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) RecordMismatch(field string) {
	if m == nil {
		return
	}
	m.ConsistencyMismatches.WithLabelValues(field).Inc()
}

// RecordDecision counts an authorization decision
func (m *Metrics) RecordDecision(policy string, allowed bool, reason string) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.PermissionDecisionsTotal.WithLabelValues(policy, decision, reason).Inc()
}

func (m *Metrics) RecordAuditWritten(risk string) {
	if m == nil {
		return
	}
	m.AuditEventsTotal.WithLabelValues(risk).Inc()
}

func (m *Metrics) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.AuditEventsDropped.Inc()
}

func (m *Metrics) RecordAuditSinkError() {
	if m == nil {
		return
	}
	m.AuditSinkErrorsTotal.Inc()
}

func (m *Metrics) RecordRetentionDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.AuditRetentionDeleted.Add(float64(n))
}

// RecordWebhookAttempt counts one processing attempt
func (m *Metrics) RecordWebhookAttempt(eventType, result string) {
	if m == nil {
		return
	}
	m.WebhookAttemptsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordRetryScheduled counts a scheduled retry and raises the pending gauge
func (m *Metrics) RecordRetryScheduled() {
	if m == nil {
		return
	}
	m.WebhookRetriesTotal.Inc()
	m.WebhookPendingRetries.Inc()
}

// RecordRetryFired lowers the pending gauge when a scheduled retry runs
func (m *Metrics) RecordRetryFired() {
	if m == nil {
		return
	}
	m.WebhookPendingRetries.Dec()
}

func (m *Metrics) RecordRetryExhausted() {
	if m == nil {
		return
	}
	m.WebhookExhaustedTotal.Inc()
}

// RecordDBPool sets the connection pool gauges
func (m *Metrics) RecordDBPool(inUse, idle int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(inUse))
	m.DBConnectionsIdle.Set(float64(idle))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// pathLabel maps a request to a low-cardinality label (typically the mux
// route template); nil falls back to the raw path.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
