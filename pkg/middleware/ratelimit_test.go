package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/carebridge/pkg/auth"
	"github.com/platinummonkey/carebridge/pkg/users"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{RPS: 1, Burst: 3})
	limiter.now = func() time.Time { return now }

	allowed := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow("client") {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed, "burst admitted, rest rejected")
	assert.True(t, limiter.Allow("other"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("client"), "one token refilled")
	assert.False(t, limiter.Allow("client"))
}

func TestRateLimiter_Remaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{RPS: 1, Burst: 5})
	limiter.now = func() time.Time { return now }

	assert.Equal(t, 5, limiter.Remaining("client"))
	limiter.Allow("client")
	limiter.Allow("client")
	assert.Equal(t, 3, limiter.Remaining("client"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(RateLimitConfig{IdleTTL: time.Minute})
	limiter.now = func() time.Time { return now }

	limiter.Allow("stale")
	now = now.Add(50 * time.Second)
	limiter.Allow("fresh")
	now = now.Add(20 * time.Second)

	assert.Equal(t, 1, limiter.Cleanup())
	assert.Equal(t, 1, limiter.Len())
}

func TestRateLimiter_Handler(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{RPS: 0.001, Burst: 2})
	h := limiter.Handler(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Contains(t, w.Body.String(), MsgTooManyRequests)
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "other clients are unaffected")
}

func TestRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:1234"
	assert.Equal(t, "ip:192.0.2.7", rateLimitKey(req))

	ctx := auth.WithAuthContext(context.Background(), &auth.AuthContext{User: &users.User{ID: "user_1"}})
	assert.Equal(t, "user:user_1", rateLimitKey(req.WithContext(ctx)))
}
