// Package redis keeps short lived per user state and cached lookups in Redis.
package redis

import (
	"context"
	"fmt"

	"github.com/elkarte/forum/shared/config"
	"github.com/elkarte/forum/shared/logger"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "forum:"

// NewClient connects and pings.
func NewClient(ctx context.Context, cfg config.Redis) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Log.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	return rdb, nil
}
