package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aegis-chat/aegis-ids/internal/permbits"
)

// Cache caches resolved channel-scoped permission results, keyed by
// (principal, channel). A cache miss or error is never fatal to the
// resolver; it only costs a recompute.
type Cache interface {
	Get(ctx context.Context, principalID, channelID uuid.UUID) (Result, bool)
	Set(ctx context.Context, principalID, channelID uuid.UUID, result Result) error
	InvalidatePrincipal(ctx context.Context, principalID uuid.UUID) error
	InvalidateChannel(ctx context.Context, channelID uuid.UUID) error
	InvalidateAll(ctx context.Context) error
}

// CacheTTL is how long a cached resolution is trusted before being
// recomputed, bounding how stale a permission grant can be after a role or
// override mutation that failed to invalidate.
const CacheTTL = 300 * time.Second

// RedisCache is a Cache backed by a Redis-compatible store.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache builds a RedisCache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type cachedResult struct {
	Permissions uint64 `json:"permissions"`
	IsOwner     bool   `json:"is_owner"`
	IsAdmin     bool   `json:"is_admin"`
}

func cacheKey(principalID, channelID uuid.UUID) string {
	return fmt.Sprintf("perms:%s:%s", principalID, channelID)
}

// Get returns the cached result for (principalID, channelID), if present.
func (c *RedisCache) Get(ctx context.Context, principalID, channelID uuid.UUID) (Result, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(principalID, channelID)).Bytes()
	if err != nil {
		return Result{}, false
	}

	var cr cachedResult
	if err := json.Unmarshal(raw, &cr); err != nil {
		return Result{}, false
	}
	return Result{Permissions: permbits.Bitfield(cr.Permissions), IsOwner: cr.IsOwner, IsAdmin: cr.IsAdmin}, true
}

// Set stores result for (principalID, channelID) with the cache's TTL.
func (c *RedisCache) Set(ctx context.Context, principalID, channelID uuid.UUID, result Result) error {
	data, err := json.Marshal(cachedResult{
		Permissions: uint64(result.Permissions),
		IsOwner:     result.IsOwner,
		IsAdmin:     result.IsAdmin,
	})
	if err != nil {
		return fmt.Errorf("marshal cached result: %w", err)
	}
	return c.rdb.Set(ctx, cacheKey(principalID, channelID), data, c.ttl).Err()
}

// InvalidatePrincipal drops every cached resolution for principalID across
// every channel, via a SCAN over the principal's key prefix.
func (c *RedisCache) InvalidatePrincipal(ctx context.Context, principalID uuid.UUID) error {
	return c.scanAndDelete(ctx, fmt.Sprintf("perms:%s:*", principalID))
}

// InvalidateChannel drops every cached resolution for channelID across
// every principal. Role and override mutations affect every member of the
// channel at once, so this is the common invalidation path for
// control-surface mutations.
func (c *RedisCache) InvalidateChannel(ctx context.Context, channelID uuid.UUID) error {
	return c.scanAndDelete(ctx, fmt.Sprintf("perms:*:%s", channelID))
}

// InvalidateAll drops every cached resolution. Used when a role's
// permission set changes: the affected principals cannot be enumerated
// from the cache key space, so the whole namespace is flushed.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	return c.scanAndDelete(ctx, "perms:*")
}

func (c *RedisCache) scanAndDelete(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
