package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter backed by a shared redis instance, for
// deployments running more than one verifier instance. Same window semantics
// as FixedWindow: INCR starts or extends the window, EXPIRE bounds it.
type Redis struct {
	client    *redis.Client
	prefix    string
	windowLen time.Duration
	limit     int
}

// NewRedis returns a redis-backed limiter allowing limit requests per key per windowLen.
func NewRedis(client *redis.Client, prefix string, limit int, windowLen time.Duration) *Redis {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{client: client, prefix: prefix, windowLen: windowLen, limit: limit}
}

// Allow counts one request against key's current window. Errors are redis
// infrastructure failures and are returned for the caller to fail open on.
func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + ":" + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.windowLen).Err(); err != nil {
			return Decision{}, err
		}
	}
	if int(count) > l.limit {
		ttl, err := l.client.PTTL(ctx, k).Result()
		if err != nil || ttl < 0 {
			ttl = l.windowLen
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}

// Reset deletes key's window so its full budget is available again.
func (l *Redis) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.prefix+":"+key).Err()
}
