package room

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"listsync/internal/protocol"
	"listsync/pkg/logger"
)

type relayMessage struct {
	Room     string            `json:"room,omitempty"`
	All      bool              `json:"all,omitempty"`
	Envelope protocol.Envelope `json:"envelope"`
}

// RedisRelay is a Broadcaster shared by several service replicas. Publishes
// go through a Redis pub/sub channel and every replica, this one included,
// delivers what it receives to its local Registry.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *Registry
}

// NewRedisRelay returns a relay publishing on channel and delivering to local.
func NewRedisRelay(client *redis.Client, channel string, local *Registry) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, local: local}
}

// Broadcast implements Broadcaster.
func (r *RedisRelay) Broadcast(ctx context.Context, roomID string, env protocol.Envelope) error {
	return r.publish(ctx, relayMessage{Room: roomID, Envelope: env})
}

// BroadcastAll implements Broadcaster.
func (r *RedisRelay) BroadcastAll(ctx context.Context, env protocol.Envelope) error {
	return r.publish(ctx, relayMessage{All: true, Envelope: env})
}

// publish falls back to local delivery when Redis is unreachable, so
// observers on this replica still converge.
func (r *RedisRelay) publish(ctx context.Context, msg relayMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		logger.Warn(ctx, "Room relay publish failed, delivering locally", "error", err, "event", msg.Envelope.Event)
		r.deliver(ctx, msg)
		return nil
	}
	return nil
}

func (r *RedisRelay) deliver(ctx context.Context, msg relayMessage) {
	if msg.All {
		_ = r.local.BroadcastAll(ctx, msg.Envelope)
		return
	}
	_ = r.local.Broadcast(ctx, msg.Room, msg.Envelope)
}

// Start subscribes to the relay channel and delivers messages until ctx is
// done. It returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg relayMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					logger.Warn(ctx, "Room relay dropped malformed message", "error", err)
					continue
				}
				r.deliver(ctx, msg)
			}
		}
	}()
	logger.Info(ctx, "Room relay subscribed", "channel", r.channel)
	return nil
}
