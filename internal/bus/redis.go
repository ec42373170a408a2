package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus carries events over Redis pub/sub, the same transport shape the
// channel contract is modeled on.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus constructs a bus on top of an existing Redis client.
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger.Named("bus")}
}

// Publish marshals the payload and fires it at the channel. There is no
// acknowledgment; a zero-subscriber publish is silently dropped by Redis.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a dedicated subscription connection and pumps messages to
// the handler until ctx is cancelled. The initial SUBSCRIBE is confirmed
// before returning so callers know the channel is being listened to.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) error {
	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					b.logger.Warn("subscription closed", zap.String("channel", channel))
					return
				}
				h(ctx, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Ping verifies the Redis connection, used by the health endpoint.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
