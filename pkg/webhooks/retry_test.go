package webhooks

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
)

func TestNewRetryPolicy_Defaults(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})
	assert.Equal(t, DefaultRetryConfig(), p.Config())

	p = NewRetryPolicy(RetryConfig{MaxAttempts: 2, InitialDelay: time.Minute, MaxDelay: time.Second, BackoffMultiplier: 0.5})
	cfg := p.Config()
	assert.Equal(t, time.Minute, cfg.MaxDelay, "max delay raised to initial delay")
	assert.Equal(t, 1.0, cfg.BackoffMultiplier)
}

func TestNextRetryDelay(t *testing.T) {
	fixed := NewRetryPolicy(RetryConfig{MaxAttempts: 5, InitialDelay: 5 * time.Second})
	for attempt := 1; attempt <= 4; attempt++ {
		assert.Equal(t, 5*time.Second, fixed.NextRetryDelay(attempt))
	}

	backoff := NewRetryPolicy(RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2,
	})
	assert.Equal(t, time.Second, backoff.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, backoff.NextRetryDelay(2))
	assert.Equal(t, 4*time.Second, backoff.NextRetryDelay(3))
	assert.Equal(t, 8*time.Second, backoff.NextRetryDelay(4))
	assert.Equal(t, 10*time.Second, backoff.NextRetryDelay(5))
}

func TestShouldRetry(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxAttempts: 3})
	transient := errors.New("connection reset")

	assert.True(t, p.ShouldRetry(1, transient))
	assert.True(t, p.ShouldRetry(2, transient))
	assert.False(t, p.ShouldRetry(3, transient))
	assert.False(t, p.ShouldRetry(1, nil))
	assert.False(t, p.ShouldRetry(1, apperrors.Conflict("user already exists")))
	assert.False(t, p.ShouldRetry(1, apperrors.NotFound("user not found")))
	assert.False(t, p.ShouldRetry(1, apperrors.Validation("bad payload")))
	assert.True(t, p.ShouldRetry(1, apperrors.Internal("db down")))
}
