package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel events are forwarded to.
const DefaultRedisChannel = "tickets.events"

// redisPublisher is the subset of *redis.Client the forwarder needs.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisForwarder republishes events as JSON on a Redis pub/sub channel so
// out-of-process notification senders can consume them.
type RedisForwarder struct {
	client  redisPublisher
	channel string
}

// NewRedisForwarder builds a forwarder; an empty channel uses DefaultRedisChannel.
func NewRedisForwarder(client redisPublisher, channel string) *RedisForwarder {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisForwarder{client: client, channel: channel}
}

// Channel returns the target channel name.
func (f *RedisForwarder) Channel() string {
	return f.channel
}

// Handle is an EventHandler.
func (f *RedisForwarder) Handle(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	if err := f.client.Publish(ctx, f.channel, body).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}
