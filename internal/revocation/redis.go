package revocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ems:revoked:"

// RedisConfig addresses the shared denylist.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis keeps revoked token ids as keys that expire with the token.
type Redis struct {
	rdb *redis.Client
	now func() time.Time
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("revocation: ping redis: %w", err)
	}
	return NewRedisFromClient(rdb), nil
}

// NewRedisFromClient wraps an existing client without pinging it.
func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, now: time.Now}
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return errEmptyTokenID
	}
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.rdb.Set(ctx, keyPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("revocation: set: %w", err)
	}
	return nil
}

func (r *Redis) Revoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, keyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("revocation: exists: %w", err)
	}
	return n > 0, nil
}
