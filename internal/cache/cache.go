package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a small optional Redis wrapper for read projections. A nil *Cache
// is valid and disables caching, so callers never branch on deployment.
type Cache struct {
	client *redis.Client
}

// New connects to redisURL, or returns nil (caching disabled) when the URL
// is empty or unreachable. Projections are eventually consistent anyway, so
// a missing cache only costs latency.
func New(ctx context.Context, redisURL string) *Cache {
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("Cache: invalid REDIS_URL, caching disabled: %v", err)
		return nil
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Cache: redis unreachable, caching disabled: %v", err)
		return nil
	}
	return &Cache{client: client}
}

func (c *Cache) Close() {
	if c == nil {
		return
	}
	if err := c.client.Close(); err != nil {
		log.Printf("Cache: close error: %v", err)
	}
}

// GetJSON unmarshals the cached value into dest. Returns false on miss,
// disabled cache, or any error; cache failures are never surfaced.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	if c == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		log.Printf("Cache: corrupt entry for %s: %v", key, err)
		return false
	}
	return true
}

// SetJSON stores value under key with a TTL, best effort.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("Cache: marshal error for %s: %v", key, err)
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Printf("Cache: set error for %s: %v", key, err)
	}
}

// Invalidate drops keys after a write, best effort.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("Cache: invalidate error: %v", err)
	}
}
