package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLocker implements Locker using Redis SET NX PX as a distributed
// mutex, for multi-process deployments (SIGILZERO_LOCK_REDIS_ADDR).
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisLocker returns a RedisLocker connected to addr.
func NewRedisLocker(addr string) *RedisLocker {
	return &RedisLocker{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    30 * time.Second,
		prefix: "sigilzero:promotion-lock:",
	}
}

// Acquire blocks (with backoff) until it wins the distributed lock for
// key or ctx is cancelled.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := l.prefix + key

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis SETNX failed: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	release := func() {
		// Best-effort: only delete if we still hold the token, to avoid
		// releasing a lock acquired by a later holder after TTL expiry.
		script := redis.NewScript(`
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			end
			return 0
		`)
		_ = script.Run(context.Background(), l.client, []string{redisKey}, token).Err()
	}

	return release, nil
}

// Close releases the underlying Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
