// Package redis dials the optional statistics mirror.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"ballotdesk/internal/platform/config"
)

// Client is the mirror connection. It embeds the go-redis client so callers
// can hand it to anything expecting redis.Cmdable.
type Client struct {
	*goredis.Client
}

// New dials cfg.URL and pings it once. With no URL configured it returns
// (nil, nil) and the console runs without a mirror.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	c := goredis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("reach redis at %s: %w", opts.Addr, err)
	}
	return &Client{Client: c}, nil
}

// Options parses cfg.URL and overlays the configured pool and timeout limits.
// Zero values keep the go-redis defaults.
func Options(cfg config.RedisConfig) (*goredis.Options, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return opts, nil
}

// Addr returns host:port of the mirror.
func (c *Client) Addr() string {
	return c.Options().Addr
}
