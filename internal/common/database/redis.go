// Package database holds the agent's Redis connection, used as a shared
// session-token store.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"civic-notifier/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// ErrKeyMissing is returned by Get when the key does not exist.
var ErrKeyMissing = errors.New("redis key missing")

// RedisClient is a small view over *redis.Client with string-valued helpers.
type RedisClient struct {
	Client *redis.Client
}

// Options maps the redis config section onto client options. The agent
// issues a handful of lookups per login, so the pool stays small.
func Options(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
		MinIdleConns: 1,
	}
}

// NewRedis does not dial; call Ping to check reachability.
func NewRedis(cfg config.RedisConfig) *RedisClient {
	return &RedisClient{Client: redis.NewClient(Options(cfg))}
}

// NewRedisFromClient wraps an existing client, e.g. one backed by miniredis or redismock.
func NewRedisFromClient(rdb *redis.Client) *RedisClient {
	return &RedisClient{Client: rdb}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.Client.Options().Addr, err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}

// Get returns ErrKeyMissing when key is absent.
func (c *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := c.Client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrKeyMissing
	case err != nil:
		return "", err
	}
	return val, nil
}

// Set stores value under key; ttl 0 keeps it forever.
func (c *RedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	return c.Client.Del(ctx, keys...).Err()
}
