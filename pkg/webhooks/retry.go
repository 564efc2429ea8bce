package webhooks

import (
	"math"
	"time"

	"github.com/platinummonkey/carebridge/pkg/apperrors"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns three attempts five seconds apart
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      5 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 1.0,
	}
}

// RetryPolicy decides whether and when a failed event is retried
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy fills unset fields from DefaultRetryConfig. A multiplier
// below 1 is treated as 1 (fixed delay).
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	def := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = def.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = def.MaxDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.BackoffMultiplier < 1.0 {
		config.BackoffMultiplier = 1.0
	}

	return &RetryPolicy{config: config}
}

// Config returns the effective configuration
func (p *RetryPolicy) Config() RetryConfig {
	return p.config
}

// MaxAttempts is the total number of attempts, the first included
func (p *RetryPolicy) MaxAttempts() int {
	return p.config.MaxAttempts
}

// Retryable is false for expected business outcomes, which a retry would
// only repeat
func (p *RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindConflict, apperrors.KindValidation, apperrors.KindNotFound:
		return false
	}
	return true
}

// ShouldRetry reports whether an event that has failed attempts times with
// err gets another attempt
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	return p.Retryable(err) && attempts < p.config.MaxAttempts
}

// NextRetryDelay returns the delay after the given failed attempt:
// initialDelay * multiplier^(attempts-1), capped at MaxDelay
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 1 {
		return p.config.InitialDelay
	}

	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}
