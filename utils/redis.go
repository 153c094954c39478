package utils

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fundraiser/config"
)

// NewRedisClient returns a connected client, or nil when no address is
// configured.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rc, nil
}
