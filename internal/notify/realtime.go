package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RealtimePublisher pushes case events to live subscribers (dashboards, bots).
type RealtimePublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

const realtimeChannelPrefix = "caseflow:events:"

// RedisRealtime publishes over Redis pub/sub.
type RedisRealtime struct {
	client *redis.Client
}

// NewRedisRealtime creates a Redis-backed publisher.
func NewRedisRealtime(client *redis.Client) *RedisRealtime {
	return &RedisRealtime{client: client}
}

// Publish pushes one payload to channel.
func (r *RedisRealtime) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, realtimeChannelPrefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish realtime event: %w", err)
	}
	return nil
}

// NopRealtime is used when Redis is not configured.
type NopRealtime struct{}

// Publish discards the payload.
func (NopRealtime) Publish(context.Context, string, []byte) error { return nil }
