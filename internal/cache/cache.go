// Package cache is a thin Redis wrapper. The platform must stay correct
// with caching disabled entirely: a miss or a Redis failure always means
// recompute, never an error to the caller.
package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// settlement_summary:{company_id} -> summary JSON
	KeySettlementSummary = "settlement_summary:%s"
)

var TTLSettlementSummary = 5 * time.Minute

type Cache struct {
	rdb *redis.Client
}

// New creates a Cache. An empty addr disables caching.
func New(addr string) *Cache {
	if addr == "" {
		return &Cache{}
	}
	return &Cache{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c.rdb != nil
}

// Get returns the cached value and whether it was found.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c.rdb == nil {
		return "", false
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("WARN: cache get %s: %v", key, err)
		}
		return "", false
	}
	return val, true
}

// Set stores the value with a TTL. Failures are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key, val string, ttl time.Duration) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		log.Printf("WARN: cache set %s: %v", key, err)
	}
}

// Delete removes a key. Failures are logged and swallowed.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		log.Printf("WARN: cache delete %s: %v", key, err)
	}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
