package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/carebridge/pkg/httputil"
	"github.com/platinummonkey/carebridge/pkg/observability"
)

// DistributedKeyPrefix namespaces rate limit counters in a shared Redis
const DistributedKeyPrefix = "carebridge:ratelimit:"

// DistributedRateLimiter counts requests per fixed window in Redis so the
// limit holds across replicas
type DistributedRateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	logger *observability.Logger

	// failOpen admits requests when Redis is unreachable
	failOpen bool
}

// NewDistributedRateLimiter allows RPS*window+Burst requests per window
func NewDistributedRateLimiter(client *redis.Client, config RateLimitConfig, window time.Duration, logger *observability.Logger) *DistributedRateLimiter {
	def := DefaultRateLimitConfig()
	if config.RPS <= 0 {
		config.RPS = def.RPS
	}
	if window <= 0 {
		window = time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	limit := int64(math.Ceil(config.RPS*window.Seconds())) + int64(config.Burst)
	return &DistributedRateLimiter{
		redis:    client,
		limit:    limit,
		window:   window,
		logger:   logger.Component("ratelimit"),
		failOpen: true,
	}
}

// SetFailOpen controls whether to fail open (true) or closed (false) on Redis errors
func (rl *DistributedRateLimiter) SetFailOpen(enabled bool) {
	rl.failOpen = enabled
}

// Allow increments the counter for key in the current window and returns
// the count seen so far
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	redisKey := rl.windowKey(key, time.Now())

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return rl.failOpen, 0, fmt.Errorf("redis error: %w", err)
	}

	count := incr.Val()
	return count <= rl.limit, count, nil
}

func (rl *DistributedRateLimiter) windowKey(key string, now time.Time) string {
	bucket := now.UnixNano() / int64(rl.window)
	return DistributedKeyPrefix + key + ":" + strconv.FormatInt(bucket, 10)
}

// untilNextWindow returns the time left in the current window
func (rl *DistributedRateLimiter) untilNextWindow(now time.Time) time.Duration {
	w := int64(rl.window)
	return time.Duration(w - now.UnixNano()%w)
}

// Reset clears the current window's counter for key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.windowKey(key, time.Now())).Err()
}

// Handler limits like RateLimiter.Handler using the shared counters
func (rl *DistributedRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := rateLimitKey(r)

		allowed, count, err := rl.Allow(ctx, key)
		if err != nil {
			rl.logger.WithError(err).Warn("rate limit check failed")
			if !allowed {
				httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.limit, 10))
		if !allowed {
			retryAfter := rl.untilNextWindow(time.Now())
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter.Seconds())))
			w.Header().Set("X-RateLimit-Remaining", "0")
			httputil.WriteTooManyRequests(w, MsgTooManyRequests)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(rl.limit-count, 10))
		next.ServeHTTP(w, r)
	})
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}
