package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	defaultCacheTTL     = 5 * time.Second
	defaultStoreTimeout = 2 * time.Second
)

// Limiter applies fixed-window limits over a Store.
type Limiter struct {
	store        Store
	failOpen     bool
	storeTimeout time.Duration
	cache        *deniedCache
	metrics      *Metrics
	log          *slog.Logger
	now          func() time.Time
}

// Option configures the Limiter.
type Option func(*Limiter) error

// WithFailOpen controls behavior on store errors. The default is fail-open.
func WithFailOpen(v bool) Option {
	return func(l *Limiter) error {
		l.failOpen = v
		return nil
	}
}

// WithCacheTTL sets how long a denied decision is served locally. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(l *Limiter) error {
		if ttl < 0 {
			return ErrInvalidInput
		}
		if ttl == 0 {
			l.cache = nil
			return nil
		}
		l.cache = newDeniedCache(ttl, defaultCacheKeys)
		return nil
	}
}

// WithStoreTimeout bounds each store round trip.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *Limiter) error {
		if d <= 0 {
			return ErrInvalidInput
		}
		l.storeTimeout = d
		return nil
	}
}

// WithMetrics records decisions on m.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) error {
		l.metrics = m
		return nil
	}
}

// WithLogger sets the logger used for store failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) error {
		if log != nil {
			l.log = log
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) error {
		if now == nil {
			return ErrInvalidInput
		}
		l.now = now
		return nil
	}
}

// NewLimiter constructs a Limiter with fail-open semantics and a 5s denied cache.
func NewLimiter(store Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	l := &Limiter{
		store:        store,
		failOpen:     true,
		storeTimeout: defaultStoreTimeout,
		cache:        newDeniedCache(defaultCacheTTL, defaultCacheKeys),
		log:          slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// FailOpen reports the configured store-error policy.
func (l *Limiter) FailOpen() bool { return l.failOpen }

// CheckAndIncrement counts one request for key and reports whether it fits in
// maxRequests per window. maxRequests <= 0 disables the limit.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string, window time.Duration, maxRequests int) (Decision, error) {
	return l.check(ctx, "", key, window, maxRequests)
}

// Allow applies policy p to key.
func (l *Limiter) Allow(ctx context.Context, p Policy, key string) (Decision, error) {
	return l.check(ctx, p.Name, key, p.Window, p.Max)
}

func (l *Limiter) check(ctx context.Context, policy, key string, window time.Duration, max int) (Decision, error) {
	if max <= 0 {
		return Decision{Allowed: true, Limit: max, Remaining: max}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" || window <= 0 {
		return Decision{}, ErrInvalidInput
	}

	now := l.now()
	ck := cacheKey(key, window, max)
	if l.cache != nil {
		if d, ok := l.cache.get(ck, now); ok {
			l.metrics.observe(policy, resultCached)
			return d, nil
		}
	}

	sctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	entry, err := l.store.Increment(sctx, key, window, now)
	if err != nil {
		if l.failOpen {
			l.metrics.observe(policy, resultFailOpen)
			l.log.Warn("ratelimit.store.fail_open", "policy", policy, "err", err)
			return Decision{Allowed: true, Limit: max, Remaining: max}, nil
		}
		l.metrics.observe(policy, resultFailClosed)
		l.log.Error("ratelimit.store.fail_closed", "policy", policy, "err", err)
		return Decision{Allowed: false, Limit: max}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	d := decide(entry, max)
	if d.Allowed {
		l.metrics.observe(policy, resultAllowed)
		return d, nil
	}

	l.metrics.observe(policy, resultDenied)
	if l.cache != nil {
		l.cache.put(ck, d, now)
	}
	return d, nil
}

// cacheKey scopes a cached denial to the limit it was decided under.
func cacheKey(key string, window time.Duration, max int) string {
	return key + "|" + window.String() + "|" + strconv.Itoa(max)
}
