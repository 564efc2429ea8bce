// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLevel(cfg.LogLevel), os.Stdout)
//	logger.Component("provision").WithField("user_id", id).Info("user synced")
//
// Request-scoped logging picks up request_id and user_id from pkg/contextkeys:
//
//	observability.FromContext(ctx).Warn("consistency mismatch")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordCacheLookup(hit)
//	metrics.RecordDecision("require_role", false, "role")
//
// Record helpers are no-ops on a nil *Metrics.
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{...}, logger)
//	ctx, span := observability.Tracer().Start(ctx, "auth.Authenticate")
//	defer func() { observability.EndSpan(span, err) }()
//
// # Health and Shutdown
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.RegisterShutdownFunc("audit", dispatcher.Close)
//	sm.WaitForShutdown(ctx)
package observability
