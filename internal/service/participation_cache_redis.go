package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisParticipationCache shares the participated set across replicas so a
// user bounced between nodes still gets the fast rejection.
type RedisParticipationCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisParticipationCache(client redis.UniversalClient, prefix string) *RedisParticipationCache {
	if prefix == "" {
		prefix = "participated"
	}
	return &RedisParticipationCache{client: client, prefix: prefix}
}

func (c *RedisParticipationCache) key(userID, saleWindowID uint) string {
	return fmt.Sprintf("%s:%d:%d", c.prefix, saleWindowID, userID)
}

func (c *RedisParticipationCache) Seen(ctx context.Context, userID, saleWindowID uint) (bool, error) {
	err := c.client.Get(ctx, c.key(userID, saleWindowID)).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("participation cache get: %w", err)
	}
	return true, nil
}

func (c *RedisParticipationCache) Mark(ctx context.Context, userID, saleWindowID uint, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.key(userID, saleWindowID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("participation cache set: %w", err)
	}
	return nil
}
