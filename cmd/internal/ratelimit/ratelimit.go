// Package ratelimit bounds request rates per client key with a fixed-window counter.
//
// A Limiter decides; a Store counts. Stores increment atomically and always
// count the request, including requests that end up denied. In-memory, Redis and
// PostgreSQL stores are interchangeable.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable is returned in fail-closed mode when the store cannot be reached.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")

	// ErrCapacity is returned by MemoryStore when it tracks too many live keys.
	ErrCapacity = errors.New("rate limiter capacity exceeded")
)

// Entry is the window state of one key.
type Entry struct {
	Key         string
	Count       int64
	WindowStart time.Time
	Window      time.Duration
}

// ResetAt is the end of the entry's window.
func (e Entry) ResetAt() time.Time { return e.WindowStart.Add(e.Window) }

// Expired reports whether now lies past the end of the window.
func (e Entry) Expired(now time.Time) bool { return now.After(e.ResetAt()) }

// Decision is the outcome of one check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns ceil((ResetAt-now)/1s) in whole seconds, never negative.
func (d Decision) RetryAfter(now time.Time) int64 {
	if d.ResetAt.IsZero() {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return int64(math.Ceil(wait.Seconds()))
}

// Policy is a named limit applied by middleware.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

// Store counts requests per key.
//
// Increment atomically starts a fresh window with count=1 when the key is absent
// or its window ended before now, and otherwise adds one to the count.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error)
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

func decide(e Entry, max int) Decision {
	remaining := int64(max) - e.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   e.Count <= int64(max),
		Limit:     max,
		Remaining: int(remaining),
		ResetAt:   e.ResetAt(),
	}
}
