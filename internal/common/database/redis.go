package database

import (
	"context"
	"fmt"
	"time"

	"mf-loan-eligibility/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the cache used for OTPs and mobile-existence verdicts.
type RedisClient struct {
	Client    *redis.Client
	KeyPrefix string
}

func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	return &RedisClient{Client: rdb, KeyPrefix: cfg.KeyPrefix}, nil
}

// Key namespaces parts under the configured prefix: "<prefix>:a:b".
func (c *RedisClient) Key(parts ...string) string {
	key := c.KeyPrefix
	for _, p := range parts {
		if key == "" {
			key = p
			continue
		}
		key += ":" + p
	}
	return key
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
