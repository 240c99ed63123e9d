// Package cache provides a typed redis-backed cache. Every operation
// is a no-op when the redis client is nil so callers never need to
// branch on cache availability.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when the key is absent.
var ErrMiss = errors.New("cache miss")

// Cache stores JSON-encoded values of one type under a key prefix.
type Cache[T any] struct {
	rc     *redis.Client
	prefix string
}

// New creates a cache for type T under the given key prefix.
func New[T any](rc *redis.Client, prefix string) *Cache[T] {
	return &Cache[T]{rc: rc, prefix: prefix}
}

func (c *Cache[T]) key(k string) string {
	return fmt.Sprintf("%s:%s", c.prefix, k)
}

// Get retrieves a single item from cache. Returns ErrMiss when absent
// or when no redis client is configured.
func (c *Cache[T]) Get(ctx context.Context, k string) (*T, error) {
	if c.rc == nil {
		return nil, ErrMiss
	}
	result, err := c.rc.Get(ctx, c.key(k)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	var row T
	if err := json.Unmarshal([]byte(result), &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return &row, nil
}

// Set saves a single item into cache with an optional expiry.
func (c *Cache[T]) Set(ctx context.Context, k string, data *T, expire ...time.Duration) error {
	if c.rc == nil {
		return nil
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	exp := time.Duration(0)
	if len(expire) > 0 {
		exp = expire[0]
	}
	if err := c.rc.Set(ctx, c.key(k), bytes, exp).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Delete removes an item from cache.
func (c *Cache[T]) Delete(ctx context.Context, k string) error {
	if c.rc == nil {
		return nil
	}
	if err := c.rc.Del(ctx, c.key(k)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}
