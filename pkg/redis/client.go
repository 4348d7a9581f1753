// Package redis provides an optional Redis-backed persistence layer for the
// account list, cached upstream signatures, and usage statistics. Nothing in
// this package stores transient rate-limit state: that lives only on the
// in-memory Account struct managed by internal/pool.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for Redis data.
const (
	PrefixAccounts          = "cloudcodegw:accounts:"
	PrefixAccountIndex      = "cloudcodegw:accounts:index"
	PrefixQuotas            = "cloudcodegw:quotas:"
	PrefixSignatureTool     = "cloudcodegw:signatures:tool:"
	PrefixSignatureThinking = "cloudcodegw:signatures:thinking:"
	PrefixStats             = "cloudcodegw:stats:"
	PrefixTokenCache        = "cloudcodegw:token_cache:"
	PrefixProjectCache      = "cloudcodegw:project_cache:"
)

// Client wraps the Redis client with domain-specific operations.
type Client struct {
	rdb *redis.Client
}

// Config represents Redis connection configuration.
type Config struct {
	Addr string
	DB   int
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Raw returns the underlying client for operations this wrapper doesn't expose.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.rdb.Exists(ctx, key).Result()
	return count > 0, err
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// HSet sets fields in a hash, JSON-encoding non-string values.
func (c *Client) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	args := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k)
		switch val := v.(type) {
		case string:
			args = append(args, val)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			args = append(args, string(data))
		}
	}
	return c.rdb.HSet(ctx, key, args...).Err()
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *Client) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	return c.rdb.HIncrBy(ctx, key, field, incr).Result()
}

func (c *Client) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SAdd(ctx, key, members...).Err()
}

func (c *Client) SRem(ctx context.Context, key string, members ...interface{}) error {
	return c.rdb.SRem(ctx, key, members...).Err()
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return c.rdb.SMembers(ctx, key).Result()
}

func (c *Client) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Pipeline creates a new pipeline for batched writes.
func (c *Client) Pipeline() redis.Pipeliner {
	return c.rdb.Pipeline()
}

// IsNil reports whether err is redis.Nil (key not found).
func IsNil(err error) bool {
	return err == redis.Nil
}

// ScanAll returns all keys matching a pattern, paging through SCAN.
func (c *Client) ScanAll(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error
		batch, cursor, err = c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			break
		}
	}

	return keys, nil
}
