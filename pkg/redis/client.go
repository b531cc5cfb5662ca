// Package redis wraps go-redis/v9 for the query cache (string get/set and
// pattern invalidation) and hands the raw command set to the index store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	"github.com/redis/go-redis/v9"
)

const scanPageSize = 100

// Client wraps a go-redis client.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Cmdable exposes the full command set for callers that issue pipelines.
func (c *Client) Cmdable() redis.Cmdable {
	return c.rdb
}

// Get returns the string value for the given key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Set stores a value with the given TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del unlinks the given keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Unlink(ctx, keys...).Err()
}

// FlushByPattern collects every key matching the glob pattern, then unlinks
// them in chunks of scanPageSize, returning the number of keys removed.
// Deleting only after the scan completes keeps the cursor stable. Keys
// written while the scan runs may survive.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, scanPageSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scanning pattern %s: %w", pattern, err)
	}

	var deleted int64
	for start := 0; start < len(keys); start += scanPageSize {
		chunk := keys[start:min(start+scanPageSize, len(keys))]
		n, err := c.rdb.Unlink(ctx, chunk...).Result()
		if err != nil {
			return deleted, fmt.Errorf("unlinking %d keys: %w", len(chunk), err)
		}
		deleted += n
	}
	return deleted, nil
}

// IsNilError reports whether err is a Redis nil (key-not-found) error.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Close closes the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
