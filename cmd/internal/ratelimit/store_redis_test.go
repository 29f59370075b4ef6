package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st, err := NewRedisStore(client, "")
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	return st, mr
}

func TestRedisStore_FixedWindow(t *testing.T) {
	t.Parallel()

	st, mr := newMiniredisStore(t)
	clock := newFakeClock()
	l := newTestLimiter(t, st, clock, WithCacheTTL(0))
	ctx := context.Background()

	want := []bool{true, true, true, false}
	for i, w := range want {
		d, err := l.CheckAndIncrement(ctx, "ip:10.0.0.1", 60*time.Second, 3)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if d.Allowed != w {
			t.Fatalf("check %d: allowed=%v want=%v", i, d.Allowed, w)
		}
	}

	if !mr.Exists(DefaultRedisPrefix + "ip:10.0.0.1") {
		t.Fatalf("expected prefixed key in redis")
	}
	if ttl := mr.TTL(DefaultRedisPrefix + "ip:10.0.0.1"); ttl <= 0 || ttl > 60*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(61 * time.Second)
	clock.Advance(61 * time.Second)

	d, err := l.CheckAndIncrement(ctx, "ip:10.0.0.1", 60*time.Second, 3)
	if err != nil {
		t.Fatalf("check after window: %v", err)
	}
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("expected fresh window, got %+v", d)
	}
}

func TestRedisStore_ResetAtFromTTL(t *testing.T) {
	t.Parallel()

	st, _ := newMiniredisStore(t)
	now := time.Now()

	e, err := st.Increment(context.Background(), "k", 30*time.Second, now)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if e.Count != 1 {
		t.Fatalf("expected count=1, got %d", e.Count)
	}
	if got := e.ResetAt().Sub(now); got != 30*time.Second {
		t.Fatalf("expected resetAt=now+30s, got +%v", got)
	}
}

func TestRedisStore_UnavailableFailsOpen(t *testing.T) {
	t.Parallel()

	st, mr := newMiniredisStore(t)
	mr.Close()

	l := newTestLimiter(t, st, newFakeClock(), WithStoreTimeout(500*time.Millisecond))
	d, err := l.CheckAndIncrement(context.Background(), "k", time.Minute, 1)
	if err != nil || !d.Allowed {
		t.Fatalf("expected fail-open allow, got %+v err=%v", d, err)
	}
}
