package keystore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// TierRedis names the shared cache tier in CacheEntry.Tier.
const TierRedis = "redis"

type validEntry struct {
	Permissions []auth.Permission `json:"permissions"`
}

// RedisCache is the shared positive/negative validation cache.
type RedisCache struct {
	client redis.UniversalClient
	ttls   CacheTTLs
}

// NewRedisCache creates a cache. Zero TTLs fall back to DefaultCacheTTLs.
func NewRedisCache(client redis.UniversalClient, ttls CacheTTLs) *RedisCache {
	defaults := DefaultCacheTTLs()
	if ttls.Valid <= 0 {
		ttls.Valid = defaults.Valid
	}
	if ttls.Invalid <= 0 {
		ttls.Invalid = defaults.Invalid
	}
	return &RedisCache{client: client, ttls: ttls}
}

// TTLs returns the configured lifetimes.
func (c *RedisCache) TTLs() CacheTTLs {
	return c.ttls
}

// Lookup implements Cache. Both entries are fetched in one MGET.
func (c *RedisCache) Lookup(ctx context.Context, hash string) (CacheEntry, error) {
	miss := CacheEntry{State: CacheMiss, Tier: TierRedis}

	vals, err := c.client.MGet(ctx, InvalidCacheKey(hash), ValidCacheKey(hash)).Result()
	if err != nil {
		return miss, fmt.Errorf("redis mget failed: %w", err)
	}

	if vals[0] != nil {
		return CacheEntry{State: CacheInvalid, Tier: TierRedis}, nil
	}
	if vals[1] == nil {
		return miss, nil
	}

	raw, ok := vals[1].(string)
	if !ok {
		return miss, nil
	}
	var entry validEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// Corrupt entry: drop it and let the store answer.
		c.client.Del(ctx, ValidCacheKey(hash))
		return miss, nil
	}
	return CacheEntry{State: CacheValid, Permissions: entry.Permissions, Tier: TierRedis}, nil
}

// SetValid implements Cache.
func (c *RedisCache) SetValid(ctx context.Context, hash string, permissions []auth.Permission) error {
	if permissions == nil {
		permissions = []auth.Permission{}
	}
	data, err := json.Marshal(validEntry{Permissions: permissions})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, InvalidCacheKey(hash))
		pipe.Set(ctx, ValidCacheKey(hash), data, c.ttls.Valid)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set valid failed: %w", err)
	}
	return nil
}

// SetInvalid implements Cache.
func (c *RedisCache) SetInvalid(ctx context.Context, hash string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ValidCacheKey(hash))
		pipe.Set(ctx, InvalidCacheKey(hash), invalidSentinel, c.ttls.Invalid)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set invalid failed: %w", err)
	}
	return nil
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, hash string) error {
	if err := c.client.Del(ctx, ValidCacheKey(hash), InvalidCacheKey(hash)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
