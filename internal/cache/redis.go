// Package cache owns the Redis connection shared by the rate limiter and
// the auth event stream.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ahmedmanch666/slam/internal/config"
)

// ClientName is sent with CLIENT SETNAME on every pooled connection.
const ClientName = "tendercrm"

// NewRedisClient connects and pings. It returns nil, nil when Redis is
// disabled so callers can treat a nil client as "no cache".
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis enabled without an address")
	}

	client := redis.NewClient(&redis.Options{
		Addr:             cfg.Addr,
		Password:         cfg.Password,
		DB:               cfg.DB,
		ClientName:       ClientName,
		DisableIndentity: true,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	return client, nil
}
