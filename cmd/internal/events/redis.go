package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultRevocationChannel is the pub/sub channel carrying session revocations between instances.
const DefaultRevocationChannel = "auth:sessions:revoked"

// RedisBroadcaster publishes session-revoking events on a redis channel so every instance can
// drop the user's live connections. Other event types are ignored.
type RedisBroadcaster struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

func NewRedisBroadcaster(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisBroadcaster {
	if channel == "" {
		channel = DefaultRevocationChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroadcaster{client: client, channel: channel, logger: logger}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, ev Event) error {
	if !ev.Type.RevokesSessions() {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis marshal: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe delivers every event received on the channel to handle until ctx is done.
// Malformed messages are logged and skipped.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, handle func(Event)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription to be confirmed so callers know it is live.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("events.redis.decode_fail", "channel", msg.Channel, "err", err)
				continue
			}
			handle(ev)
		}
	}
}
