package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"herald/cmd/internal/pgtest"
)

func TestPostgresStore_FixedWindowAndSweep(t *testing.T) {
	t.Parallel()

	pool := pgtest.OpenPool(t)
	schema := pgtest.Schema(t, pool, "ratelimit")

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	clock := newFakeClock()
	l := newTestLimiter(t, st, clock, WithCacheTTL(0))
	ctx := context.Background()

	want := []bool{true, true, true, false}
	for i, w := range want {
		d, err := l.CheckAndIncrement(ctx, "waitlist:a@example.com", 60*time.Second, 3)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if d.Allowed != w {
			t.Fatalf("check %d: allowed=%v want=%v", i, d.Allowed, w)
		}
	}

	clock.Advance(61 * time.Second)
	d, err := l.CheckAndIncrement(ctx, "waitlist:a@example.com", 60*time.Second, 3)
	if err != nil || !d.Allowed || d.Remaining != 2 {
		t.Fatalf("expected fresh window, got %+v err=%v", d, err)
	}

	n, err := st.Sweep(ctx, clock.Now().Add(2*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
}

func TestPostgresStore_ConcurrentIncrementsAreExact(t *testing.T) {
	t.Parallel()

	pool := pgtest.OpenPool(t)
	schema := pgtest.Schema(t, pool, "ratelimit")

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Increment(ctx, "k", time.Minute, now); err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	e, err := st.Increment(ctx, "k", time.Minute, now)
	if err != nil {
		t.Fatalf("final increment: %v", err)
	}
	if e.Count != n+1 {
		t.Fatalf("expected count=%d, got %d", n+1, e.Count)
	}
}
