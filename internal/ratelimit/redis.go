package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis so every app instance sees the same
// windows. Window expiry is delegated to key TTLs, so no sweep is needed.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a store whose keys are prefixed with "ratelimit:".
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "ratelimit:"}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string, now time.Time) (Entry, bool, error) {
	k := r.prefix + key

	pipe := r.rdb.Pipeline()
	countCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, false, fmt.Errorf("reading %s: %w", k, err)
	}

	count, err := countCmd.Int()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("parsing %s: %w", k, err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		// A counter without TTL should not exist; treat it as expired.
		ttl = -time.Millisecond
	}
	return Entry{Count: count, ResetTime: now.Add(ttl)}, true, nil
}

// Increment implements Store. The TTL is only set when INCR creates the key,
// which keeps the window fixed.
func (r *RedisStore) Increment(ctx context.Context, key string, now time.Time, window time.Duration) (Entry, error) {
	k := r.prefix + key

	count, err := r.rdb.Incr(ctx, k).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("incrementing %s: %w", k, err)
	}

	ttl, err := r.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("reading ttl of %s: %w", k, err)
	}
	if count == 1 || ttl < 0 {
		if err := r.rdb.PExpire(ctx, k, window).Err(); err != nil {
			return Entry{}, fmt.Errorf("setting ttl of %s: %w", k, err)
		}
		ttl = window
	}
	return Entry{Count: int(count), ResetTime: now.Add(ttl)}, nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", r.prefix+key, err)
	}
	return nil
}
