// Package middleware holds the request-scoped HTTP middleware: bearer token
// authentication with first-login provisioning, and per-client rate limits.
//
// Order matters. Rate limiting keys on the local user when one is attached,
// so mount it after authentication on protected routes:
//
//	authMW := middleware.NewAuthMiddleware(authenticator, userStore, engine, recorder)
//	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{RPS: 10, Burst: 20})
//
//	router.Handle("/api/auth/me", authMW.RequireAuth(limiter.Handler(meHandler)))
//
// DistributedRateLimiter enforces the same limit across replicas with
// fixed-window counters in Redis. It fails open unless SetFailOpen(false).
package middleware
