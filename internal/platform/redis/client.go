// Package redis opens the optional Redis client that backs evidence
// idempotency keys.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/redis/go-redis/v9"

	"keystone/internal/platform/config"
	"keystone/internal/platform/metrics"
)

type Client struct {
	*redis.Client
}

// New returns nil, nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	client.AddHook(observer{logger: logger, metrics: m})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{Client: client}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// observer counts failed commands by name. A cache miss is not a failure.
type observer struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (o observer) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil && o.logger != nil {
			o.logger.WarnContext(ctx, "redis dial failed", "addr", addr, "error", err)
		}
		return conn, err
	}
}

func (o observer) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, redis.Nil) {
			o.metrics.IncrementRedisError(cmd.Name())
		}
		return err
	}
}

func (o observer) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		if err != nil && !errors.Is(err, redis.Nil) {
			o.metrics.IncrementRedisError("pipeline")
		}
		return err
	}
}
