// Package redis provides the Redis client used by the gateway cache.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/ragway/pkg/errors"
	options "github.com/kart-io/ragway/pkg/options/redis"
)

// Client wraps a go-redis client built from pkg/options/redis.
type Client struct {
	client *goredis.Client
	opts   *options.Options
}

// New creates a Redis client and verifies connectivity with a ping.
// Use NewLazy when the caller tolerates Redis being down at startup.
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	c, err := NewLazy(opts)
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, errors.ErrCacheUnavailable.WithCause(err)
	}
	return c, nil
}

// NewLazy creates a Redis client without verifying connectivity.
// 网关缓存依赖它:Redis 启动时不可达只会降级为缓存未命中,
// 恢复后自动生效。
func NewLazy(opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis options cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis options: %w", err)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.Database,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolTimeout:  opts.PoolTimeout,
	})
	return &Client{client: rdb, opts: opts}, nil
}

// Client returns the underlying go-redis client for direct use.
func (c *Client) Client() *goredis.Client {
	return c.client
}

// Options returns the Redis options used by this client.
func (c *Client) Options() *options.Options {
	return c.opts
}

// Ping checks if the connection to Redis is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection. Safe to call multiple times.
func (c *Client) Close() error {
	return c.client.Close()
}
