package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const seenKeyPrefix = "hexclaw:seen:"

// RedisSeen is the preferred SeenStore: Redis key expiry does the TTL work
// and the set is shared if several daemons watch the same feeds.
type RedisSeen struct {
	rdb *redis.Client
	ctx context.Context
}

// NewRedisSeen connects to redisURL and verifies the connection.
func NewRedisSeen(redisURL string) (*RedisSeen, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisSeen{rdb: rdb, ctx: context.Background()}, nil
}

func (r *RedisSeen) Seen(fingerprint string) (bool, error) {
	n, err := r.rdb.Exists(r.ctx, seenKeyPrefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *RedisSeen) Mark(fingerprint string, ttl time.Duration) error {
	if err := r.rdb.Set(r.ctx, seenKeyPrefix+fingerprint, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisSeen) Close() error {
	return r.rdb.Close()
}
