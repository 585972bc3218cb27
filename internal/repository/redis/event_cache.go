package redis

import (
	"context"
	"fmt"
	"time"

	"escrowledger/internal/config"
	"escrowledger/internal/port"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type eventCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient connects and pings; a cache that cannot answer at startup is a
// configuration error.
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        50,
		MinIdleConns:    5,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", cfg.Addr))
	return client, nil
}

// NewEventCache returns the shared fast-path record of handled processor
// events. The database stays authoritative; the cache only saves a lookup.
func NewEventCache(client *redis.Client, logger *zap.Logger) port.EventCache {
	return &eventCache{client: client, logger: logger}
}

func EventKey(providerEventID string) string {
	return fmt.Sprintf("payment-event:v1:%s", providerEventID)
}

func (c *eventCache) Seen(ctx context.Context, providerEventID string) (bool, error) {
	n, err := c.client.Exists(ctx, EventKey(providerEventID)).Result()
	if err != nil {
		return false, fmt.Errorf("event cache lookup: %w", err)
	}
	return n > 0, nil
}

func (c *eventCache) MarkSeen(ctx context.Context, providerEventID string, ttl time.Duration) error {
	if err := c.client.Set(ctx, EventKey(providerEventID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("event cache write: %w", err)
	}
	return nil
}
