// Package webhooks receives identity provider callbacks and retries their
// processing with bounded backoff.
//
// Inbound requests are authenticated by Verifier (HMAC-SHA256 over
// "id.timestamp.body") and dispatched by IdentityHandler. Processing goes
// through a Coordinator, which tracks attempts per event id in a RetryStore:
//
//	policy := webhooks.NewRetryPolicy(webhooks.RetryConfig{
//		MaxAttempts:       3,
//		InitialDelay:      5 * time.Second,
//		BackoffMultiplier: 1, // fixed delay; >1 for exponential
//	})
//	coord := webhooks.NewCoordinator(webhooks.NewMemoryRetryStore(), policy, scheduler, recorder)
//	result, err := coord.ProcessEvent(ctx, env.ID, env.Type, env.Data, handle)
//
// A failed attempt schedules exactly one retry. Expected business errors
// (conflict, validation, not found) are never retried, and an event that
// exhausts its attempts is audited at critical risk.
package webhooks
