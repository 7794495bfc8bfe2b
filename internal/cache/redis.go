// Package cache provides the Redis access layer: classification results
// keyed by content fingerprint, per-aggregate mutation locks and the
// per-site publish token bucket.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrLockHeld  = errors.New("lock held by another owner")
)

// Options sizes the Redis connection pool. The event log consumer parks one
// connection in a blocking XREADGROUP, so PoolSize must leave room for the
// deploy worker and the services.
type Options struct {
	PoolSize    int
	MinIdle     int
	PoolTimeout time.Duration
	IdleTimeout time.Duration
}

// DefaultOptions returns the pool sizing used by the worker process.
func DefaultOptions() Options {
	return Options{
		PoolSize:    10,
		MinIdle:     2,
		PoolTimeout: 4 * time.Second,
		IdleTimeout: 5 * time.Minute,
	}
}

// Cache wraps a Redis client with the operations rebrick needs.
type Cache struct {
	client *redis.Client
}

// New dials redisURL and verifies the connection. Zero fields in opts fall
// back to DefaultOptions.
func New(ctx context.Context, redisURL string, opts Options) (*Cache, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts = opts.withDefaults()
	parsed.PoolSize = opts.PoolSize
	parsed.MinIdleConns = opts.MinIdle
	parsed.PoolTimeout = opts.PoolTimeout
	parsed.ConnMaxIdleTime = opts.IdleTimeout

	client := redis.NewClient(parsed)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client}, nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PoolSize <= 0 {
		o.PoolSize = d.PoolSize
	}
	if o.MinIdle < 0 || o.MinIdle > o.PoolSize {
		o.MinIdle = min(d.MinIdle, o.PoolSize)
	}
	if o.PoolTimeout <= 0 {
		o.PoolTimeout = d.PoolTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	return o
}

// NewWithClient wraps an existing client. Close still closes it.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the raw client for the stream sink and the event log
// consumer, which need stream commands Cache does not wrap.
func (c *Cache) Client() *redis.Client {
	return c.client
}
