package events

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/sbomify/sbomify/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewHub),
	fx.Provide(NewBroadcaster),
)

// NewBroadcaster prefers redis when configured so events reach every
// instance; otherwise the in-process hub serves single-node installs.
func NewBroadcaster(cfg config.Config, hub *Hub, client *redis.Client, log *zap.Logger) Broadcaster {
	if cfg.RedisAddr != "" && client != nil {
		return NewRedisBroadcaster(client, log)
	}
	return hub
}
