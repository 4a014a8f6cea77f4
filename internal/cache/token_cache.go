package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "revoked_token:"

// TokenCache remembers revoked tokens so validation can skip the database
type TokenCache interface {
	MarkRevoked(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// RedisTokenCache stores revocations as expiring keys
type RedisTokenCache struct {
	rdb *redis.Client
}

func NewRedisTokenCache(rdb *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{rdb: rdb}
}

// Connect opens a redis client and pings it
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *RedisTokenCache) MarkRevoked(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.rdb.Set(ctx, revokedKey(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache revoked token: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) IsRevoked(ctx context.Context, token string) (bool, error) {
	err := c.rdb.Get(ctx, revokedKey(token)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read revoked token: %w", err)
	}
	return true, nil
}

// NoopTokenCache is used when redis is not configured
type NoopTokenCache struct{}

func (NoopTokenCache) MarkRevoked(context.Context, string, time.Duration) error { return nil }
func (NoopTokenCache) IsRevoked(context.Context, string) (bool, error)          { return false, nil }

// Raw tokens never hit redis, only their digest.
func revokedKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedKeyPrefix + hex.EncodeToString(sum[:])
}
