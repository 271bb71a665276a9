package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	searchCacheKey   = "catalog:search:"   // + source:query
	versionsCacheKey = "catalog:versions:" // + source:pack_id

	cacheTTL = 10 * time.Minute
)

// CachedClient wraps a Client with a redis-backed response cache. A nil
// redis client disables caching and passes every call through.
type CachedClient struct {
	inner  Client
	source string
	redis  *redis.Client
}

func NewCachedClient(inner Client, source string, rdb *redis.Client) *CachedClient {
	return &CachedClient{
		inner:  inner,
		source: source,
		redis:  rdb,
	}
}

func NewRedisClient(addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (c *CachedClient) Search(ctx context.Context, query string) ([]PackDescriptor, error) {
	key := searchCacheKey + c.source + ":" + query

	var cached []PackDescriptor
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	packs, err := c.inner.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, packs)
	return packs, nil
}

func (c *CachedClient) ListVersions(ctx context.Context, packID string) ([]VersionDescriptor, error) {
	key := versionsCacheKey + c.source + ":" + packID

	var cached []VersionDescriptor
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	versions, err := c.inner.ListVersions(ctx, packID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, versions)
	return versions, nil
}

func (c *CachedClient) lookup(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("catalog cache lookup failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		slog.Warn("catalog cache entry unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedClient) store(ctx context.Context, key string, val any) {
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, cacheTTL).Err(); err != nil {
		slog.Warn("catalog cache store failed", "key", key, "error", err)
	}
}
