// Package redisconn provides the shared redis client. The client is
// nil when no address is configured; consumers must tolerate that.
package redisconn

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/sbomify/sbomify/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("redisconn",
	fx.Provide(New),
)

func New(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}
