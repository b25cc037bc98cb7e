package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const viewKeyPrefix = "share:views:"

// RedisViewCounter counts share views in Redis instead of the share table.
type RedisViewCounter struct {
	rdb *goredis.Client
}

func NewRedisViewCounter(ctx context.Context, addr string) (*RedisViewCounter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisViewCounter{rdb: rdb}, nil
}

func (c *RedisViewCounter) IncrementViews(ctx context.Context, id string) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, fmt.Errorf("redis view counter not initialized")
	}
	return c.rdb.Incr(ctx, viewKeyPrefix+id).Result()
}

func (c *RedisViewCounter) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
