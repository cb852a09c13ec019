// Package toolcache provides the Redis-backed read-through cache for the
// Plan Builder's relevance-filter decisions (§10.4).
package toolcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "toolmesh:catalog-filter:"

// RedisCache satisfies engine.CatalogCache, backed by go-redis. A cache miss
// or any Redis error is treated as ok=false rather than surfaced, since the
// relevance filter always has a safe fallback (re-ask the LLM).
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]string, bool) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.WarnContext(ctx, "toolcache get failed", "error", err)
		}
		return nil, false
	}

	var selected []string
	if err := json.Unmarshal(data, &selected); err != nil {
		slog.WarnContext(ctx, "toolcache decode failed", "error", err)
		return nil, false
	}
	return selected, true
}

func (c *RedisCache) Set(ctx context.Context, key string, selected []string, ttl time.Duration) {
	data, err := json.Marshal(selected)
	if err != nil {
		slog.WarnContext(ctx, "toolcache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "toolcache set failed", "error", err)
	}
}
