// Package cache is the redis-backed read path: a generic key/value layer
// plus the member-domain cache with stale-while-revalidate.
package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openkokkai/billtracker/observability"
)

const (
	// DefaultTTL is applied when Set is called with a non-positive TTL.
	DefaultTTL = 24 * time.Hour

	// StaleThreshold is how far into an entry's lifetime a read starts
	// triggering a background refresh.
	StaleThreshold = 6 * time.Hour

	scanBatch = 200
)

// Cache wraps a redis client with latency accounting and degraded-mode
// tracking. Values are opaque byte blobs; callers own serialization.
type Cache struct {
	rdb            *redis.Client
	defaultTTL     time.Duration
	staleThreshold time.Duration
	degraded       atomic.Bool
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb, defaultTTL: DefaultTTL, staleThreshold: StaleThreshold}
}

// Degraded reports whether the last backend roundtrip failed. While
// degraded, read-through callers skip the cache and go to the store.
func (c *Cache) Degraded() bool {
	return c.degraded.Load()
}

// Ping probes the backend and updates the degraded flag.
func (c *Cache) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	c.observe(start, err)
	return err
}

// observe records latency and flips the degraded gauge on connection-level
// failures. redis.Nil is a miss, not a failure.
func (c *Cache) observe(start time.Time, err error) {
	observability.CacheLatency.Observe(time.Since(start).Seconds())
	if err == nil || errors.Is(err, redis.Nil) {
		if c.degraded.CompareAndSwap(true, false) {
			observability.CacheDegraded.Set(0)
		}
		return
	}
	if c.degraded.CompareAndSwap(false, true) {
		observability.CacheDegraded.Set(1)
	}
}

// Get returns the value and whether the key exists.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Bytes()
	c.observe(start, err)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set stores the value. A non-positive ttl means DefaultTTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	start := time.Now()
	err := c.rdb.Set(ctx, key, value, ttl).Err()
	c.observe(start, err)
	return err
}

// Delete removes the given keys and returns how many existed.
func (c *Cache) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	start := time.Now()
	n, err := c.rdb.Del(ctx, keys...).Result()
	c.observe(start, err)
	return n, err
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	n, err := c.rdb.Exists(ctx, key).Result()
	c.observe(start, err)
	return n > 0, err
}

// TTL returns the key's remaining lifetime. Negative values follow redis
// semantics (-1 no expiry, -2 missing key).
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	start := time.Now()
	d, err := c.rdb.TTL(ctx, key).Result()
	c.observe(start, err)
	return d, err
}

// MGet returns the present keys only.
func (c *Cache) MGet(ctx context.Context, keys ...string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	start := time.Now()
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	c.observe(start, err)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

// MSet writes every entry in one pipelined transaction: MSET followed by a
// per-key EXPIRE. A non-positive ttl means DefaultTTL.
func (c *Cache) MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	pairs := make([]any, 0, len(entries)*2)
	for k, v := range entries {
		pairs = append(pairs, k, v)
	}
	start := time.Now()
	pipe := c.rdb.TxPipeline()
	pipe.MSet(ctx, pairs...)
	for k := range entries {
		pipe.Expire(ctx, k, ttl)
	}
	_, err := pipe.Exec(ctx)
	c.observe(start, err)
	return err
}

func (c *Cache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	n, err := c.rdb.IncrBy(ctx, key, delta).Result()
	c.observe(start, err)
	return n, err
}

// FlushPattern deletes every key matching the glob pattern via SCAN and
// returns the number removed.
func (c *Cache) FlushPattern(ctx context.Context, pattern string) (int, error) {
	start := time.Now()
	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	removed := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				c.observe(start, err)
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		c.observe(start, err)
		return removed, err
	}
	err := flush()
	c.observe(start, err)
	return removed, err
}

// Stale reports whether the key has lived past the stale threshold, that
// is (defaultTTL - remainingTTL) > staleThreshold. Keys without an expiry
// are never stale.
func (c *Cache) Stale(ctx context.Context, key string) (bool, error) {
	remaining, err := c.TTL(ctx, key)
	if err != nil {
		return false, err
	}
	if remaining < 0 {
		return false, nil
	}
	return c.defaultTTL-remaining > c.staleThreshold, nil
}

// countPattern counts keys matching the pattern without touching them.
func (c *Cache) countPattern(ctx context.Context, pattern string) (int, error) {
	start := time.Now()
	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	n := 0
	for iter.Next(ctx) {
		n++
	}
	err := iter.Err()
	c.observe(start, err)
	return n, err
}
