package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces limiter keys.
const DefaultRedisPrefix = "herald:rl:"

// incrScript starts the window on the first hit and reports the remaining TTL.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisStore shares window state across instances through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. An empty prefix means DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Increment implements Store with a single Lua round trip.
func (r *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	if strings.TrimSpace(key) == "" || window <= 0 {
		return Entry{}, ErrInvalidInput
	}
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1
	}

	res, err := incrScript.Run(ctx, r.client, []string{r.prefix + key}, windowMillis).Result()
	if err != nil {
		return Entry{}, err
	}
	values, ok := res.([]any)
	if !ok || len(values) < 2 {
		return Entry{}, errors.New("unexpected redis rate limit response")
	}
	count, ok := values[0].(int64)
	if !ok {
		return Entry{}, errors.New("invalid redis counter response")
	}
	ttlMillis, _ := values[1].(int64)
	if ttlMillis < 0 {
		ttlMillis = 0
	}

	resetAt := now.Add(time.Duration(ttlMillis) * time.Millisecond)
	return Entry{
		Key:         key,
		Count:       count,
		WindowStart: resetAt.Add(-window),
		Window:      window,
	}, nil
}

// Sweep is a no-op: Redis expires keys on its own.
func (r *RedisStore) Sweep(context.Context, time.Time) (int64, error) { return 0, nil }

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
