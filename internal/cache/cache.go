// Package cache provides the read-through cache for summaries and filter
// metadata. Values are stored as JSON.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stwalsh4118/zonal/internal/observability"
)

// keyPrefix namespaces every key written by this service.
const keyPrefix = "zonal:"

// invalidateBatch bounds the keys fetched per SCAN and deleted per DEL.
const invalidateBatch = 500

// Cache stores JSON-encodable values under string keys.
type Cache interface {
	// Get decodes the value stored under key into dest. It reports false
	// on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Set stores value under key with the cache's TTL.
	Set(ctx context.Context, key string, value any) error

	// Invalidate drops every key written by this service. Writers call it
	// after new records are stored.
	Invalidate(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// Key joins parts into a namespaced cache key.
func Key(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}

// Digest hashes parts into a fixed-length key segment.
func Digest(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// redisCache implements Cache on Redis.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to the Redis server at url and verifies it is reachable.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &redisCache{client: client, ttl: ttl}, nil
}

// Connect returns a Redis cache for url, or Noop when url is empty.
func Connect(ctx context.Context, url string, ttl time.Duration) (Cache, error) {
	if url == "" {
		return Noop(), nil
	}
	return NewRedis(ctx, url, ttl)
}

func (c *redisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			observability.CacheLookups.WithLabelValues("miss").Inc()
			return false, nil
		}
		observability.CacheLookups.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		observability.CacheLookups.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to decode cache key %s: %w", key, err)
	}
	observability.CacheLookups.WithLabelValues("hit").Inc()
	return true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache key %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, b, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache key %s: %w", key, err)
	}
	return nil
}

// Invalidate scans the namespace rather than flushing the database, which
// may be shared.
func (c *redisCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", invalidateBatch).Iterator()
	keys := make([]string, 0, invalidateBatch)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == invalidateBatch {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to drop cache keys: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to drop cache keys: %w", err)
		}
	}
	return nil
}

func (c *redisCache) Close() error {
	return c.client.Close()
}

// noop is used when no cache is configured. Every lookup misses.
type noop struct{}

// Noop returns a Cache that stores nothing.
func Noop() Cache {
	return noop{}
}

func (noop) Get(context.Context, string, any) (bool, error) { return false, nil }
func (noop) Set(context.Context, string, any) error         { return nil }
func (noop) Invalidate(context.Context) error               { return nil }
func (noop) Close() error                                   { return nil }
