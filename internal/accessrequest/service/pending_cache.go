package service

import (
	"context"
	"strconv"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/sbomify/sbomify/internal/cache"
	"go.uber.org/zap"
)

// pendingCounter caches the per-workspace pending request count shown
// on admin badges. Misses are cheap, staleness is not, so every state
// transition invalidates.
type pendingCounter interface {
	Get(ctx context.Context, workspaceID snowflake.ID) (int64, bool)
	Set(ctx context.Context, workspaceID snowflake.ID, count int64)
	Invalidate(ctx context.Context, workspaceID snowflake.ID)
}

func newPendingCounter(client *redis.Client, log *zap.Logger) pendingCounter {
	if client != nil {
		return &redisPendingCounts{client: client, log: log}
	}
	return &memoryPendingCounts{cache: cache.NewTTLCache[snowflake.ID, int64]()}
}

type memoryPendingCounts struct {
	cache cache.Cache[snowflake.ID, int64]
}

func (m *memoryPendingCounts) Get(_ context.Context, workspaceID snowflake.ID) (int64, bool) {
	return m.cache.Get(workspaceID)
}

func (m *memoryPendingCounts) Set(_ context.Context, workspaceID snowflake.ID, count int64) {
	m.cache.Set(workspaceID, count, pendingCountTTL)
}

func (m *memoryPendingCounts) Invalidate(_ context.Context, workspaceID snowflake.ID) {
	m.cache.Delete(workspaceID)
}

// redisPendingCounts shares the count across instances. Redis errors
// degrade to cache misses.
type redisPendingCounts struct {
	client *redis.Client
	log    *zap.Logger
}

func pendingKey(workspaceID snowflake.ID) string {
	return "accessrequest:pending:" + workspaceID.String()
}

func (r *redisPendingCounts) Get(ctx context.Context, workspaceID snowflake.ID) (int64, bool) {
	raw, err := r.client.Get(ctx, pendingKey(workspaceID)).Result()
	if err != nil {
		return 0, false
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return count, true
}

func (r *redisPendingCounts) Set(ctx context.Context, workspaceID snowflake.ID, count int64) {
	if err := r.client.Set(ctx, pendingKey(workspaceID), count, pendingCountTTL).Err(); err != nil {
		r.log.Warn("pending count cache write", zap.Error(err))
	}
}

func (r *redisPendingCounts) Invalidate(ctx context.Context, workspaceID snowflake.ID) {
	if err := r.client.Del(ctx, pendingKey(workspaceID)).Err(); err != nil {
		r.log.Warn("pending count cache invalidate", zap.Error(err))
	}
}
