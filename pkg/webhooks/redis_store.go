package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RetryKeyPrefix namespaces retry state keys in a shared Redis
const RetryKeyPrefix = "carebridge:webhook:retry:"

// RedisRetryStore keeps retry state in Redis so a replacement replica can
// see attempts made before a restart. Keys expire after ttl.
type RedisRetryStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRetryStore(client *redis.Client, ttl time.Duration) *RedisRetryStore {
	return &RedisRetryStore{client: client, ttl: ttl}
}

func (s *RedisRetryStore) Get(ctx context.Context, eventID string) (*RetryState, bool, error) {
	data, err := s.client.Get(ctx, RetryKeyPrefix+eventID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var st RetryState
	if err := json.Unmarshal(data, &st); err != nil {
		s.client.Del(ctx, RetryKeyPrefix+eventID)
		return nil, false, fmt.Errorf("failed to unmarshal retry state: %w", err)
	}
	return &st, true, nil
}

func (s *RedisRetryStore) Set(ctx context.Context, state *RetryState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal retry state: %w", err)
	}
	return s.client.Set(ctx, RetryKeyPrefix+state.EventID, data, s.ttl).Err()
}

func (s *RedisRetryStore) Delete(ctx context.Context, eventID string) error {
	return s.client.Del(ctx, RetryKeyPrefix+eventID).Err()
}

// Sweep scans every retry key and drops stale and undecodable states
func (s *RedisRetryStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, RetryKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		} else if err != nil {
			return n, fmt.Errorf("redis get failed: %w", err)
		}

		var st RetryState
		if json.Unmarshal(data, &st) == nil && !st.LastAttempt.Before(olderThan) {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return n, fmt.Errorf("redis del failed: %w", err)
		}
		n++
	}
	return n, iter.Err()
}
