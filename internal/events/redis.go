package events

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "sbomify:events:"

// RedisBroadcaster publishes events on a per-workspace redis channel
// so every app instance sees them.
type RedisBroadcaster struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisBroadcaster(client *redis.Client, log *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, log: log.Named("events.redis")}
}

func (b *RedisBroadcaster) Send(ctx context.Context, workspaceKey, eventType string, payload map[string]any) {
	event := newEvent(workspaceKey, eventType, payload)
	data, err := json.Marshal(event)
	if err != nil {
		b.log.Warn("encode event", zap.Error(err), zap.String("type", eventType))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := b.client.Publish(ctx, channelPrefix+workspaceKey, data).Err(); err != nil {
		b.log.Warn("publish event",
			zap.Error(err),
			zap.String("workspace_key", workspaceKey),
			zap.String("type", eventType),
		)
	}
}

// Subscribe relays a workspace channel onto a local Go channel until
// ctx is done.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, workspaceKey string) (<-chan Event, error) {
	sub := b.client.Subscribe(ctx, channelPrefix+workspaceKey)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	out := make(chan Event, defaultSubscriberBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warn("decode event", zap.Error(err))
					continue
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()
	return out, nil
}
