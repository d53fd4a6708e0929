package assign

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Rotation hands out a monotonically increasing counter per key. Round-robin
// resolution derives its pick from the counter, never from wall clock.
type Rotation interface {
	Next(ctx context.Context, key string) (int64, error)
}

const rotationKeyPrefix = "caseflow:rotation:"

// RedisRotation backs the rotation counter with Redis INCR, so the position
// survives restarts and is shared across replicas.
type RedisRotation struct {
	client *redis.Client
}

// NewRedisRotation creates a Redis-backed rotation.
func NewRedisRotation(client *redis.Client) *RedisRotation {
	return &RedisRotation{client: client}
}

// Next increments and returns the counter for key.
func (r *RedisRotation) Next(ctx context.Context, key string) (int64, error) {
	n, err := r.client.Incr(ctx, rotationKeyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to advance rotation counter: %w", err)
	}
	return n, nil
}

// MemoryRotation is the in-process fallback used when Redis is not configured.
// Position resets on restart, which only skews fairness briefly.
type MemoryRotation struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryRotation creates an in-memory rotation.
func NewMemoryRotation() *MemoryRotation {
	return &MemoryRotation{counters: make(map[string]int64)}
}

// Next increments and returns the counter for key.
func (m *MemoryRotation) Next(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}
