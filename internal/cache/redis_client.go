// Package cache provides a Redis client for the dedup hot cache and
// short-lived stage locks.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/serviceintel-ai/docpipe/internal/observability"
)

const keyPrefix = "docpipe:"

// Client wraps the Redis connection used by the pipeline. All failures are
// soft: callers fall back to the database when Redis is unavailable.
type Client struct {
	rdb    *redis.Client
	logger *observability.Logger
}

// New connects to Redis using a redis:// URL and verifies the connection.
func New(ctx context.Context, redisURL string, logger *observability.Logger) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{rdb: rdb, logger: logger}, nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Get retrieves a cached value. A miss returns ("", false, nil).
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores a value with a TTL.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	if err := c.rdb.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// AcquireLock takes an advisory lock via SET NX with a TTL. It returns true
// when this caller won the lock. The TTL bounds how long a crashed worker can
// hold a slot.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, keyPrefix+"lock:"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock drops an advisory lock.
func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, keyPrefix+"lock:"+key).Err(); err != nil {
		return fmt.Errorf("redis unlock %s: %w", key, err)
	}
	return nil
}

// Healthy reports whether Redis answers a ping.
func (c *Client) Healthy(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(pingCtx).Err() == nil
}
