package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"goa.design/convergio/internal/telemetry"
)

// RedisPubSub fans Bus topic traffic out across processes, grounded on the
// teacher's Publish/Subscribe-over-go-redis pattern in
// workspaces/redis_cache.go: one Redis channel per topic, JSON-encoded
// payloads, a background goroutine per local subscription decoding the
// channel into a TopicHandler call. A single-process Bus's in-memory
// Subscribe/Publish stays the default; RedisPubSub only needs to be layered
// in for a deployment that runs more than one bus instance.
type RedisPubSub struct {
	client *redis.Client
	prefix string
	logger telemetry.Logger
}

// RedisPubSubOption configures a RedisPubSub.
type RedisPubSubOption func(*RedisPubSub)

// WithRedisLogger attaches a logger used to record decode/delivery failures.
func WithRedisLogger(l telemetry.Logger) RedisPubSubOption {
	return func(r *RedisPubSub) { r.logger = l }
}

// NewRedisPubSub builds a RedisPubSub over client. Every topic is namespaced
// under prefix (e.g. "convergio:bus:") so multiple deployments can share a
// Redis instance without colliding on channel names.
func NewRedisPubSub(client *redis.Client, prefix string, opts ...RedisPubSubOption) *RedisPubSub {
	r := &RedisPubSub{client: client, prefix: prefix, logger: telemetry.Noop().Logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisPubSub) channel(topic string) string {
	return r.prefix + topic
}

// Publish serializes msg and publishes it to topic's Redis channel, reaching
// every subscriber across every process subscribed to that topic, not just
// the local Bus.
func (r *RedisPubSub) Publish(ctx context.Context, topic string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal redis publish for topic %q: %w", topic, err)
	}
	if err := r.client.Publish(ctx, r.channel(topic), data).Err(); err != nil {
		return fmt.Errorf("bus: redis publish topic %q: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler against topic's Redis channel. It returns a
// Subscription whose Close tears down both the Redis subscription and the
// decode goroutine; Close is idempotent, matching Bus.Subscribe's contract.
func (r *RedisPubSub) Subscribe(ctx context.Context, topic string, handler TopicHandler) Subscription {
	sub := r.client.Subscribe(ctx, r.channel(topic))
	done := make(chan struct{})

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					r.logger.Warn(ctx, "bus: redis subscription decode failed",
						"topic", topic, "error", err.Error())
					continue
				}
				handler(ctx, msg)
			}
		}
	}()

	return &redisSubscription{sub: sub, done: done}
}

type redisSubscription struct {
	sub  *redis.PubSub
	done chan struct{}
}

func (s *redisSubscription) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	_ = s.sub.Close()
}
