package webhook

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultReplayWindow is how long delivery ids are remembered.
const DefaultReplayWindow = time.Hour

// ReplayGuard remembers delivery ids. Seen records id and reports whether it
// was already recorded within the window. Forget releases id so a retried
// delivery is processed again.
type ReplayGuard interface {
	Seen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// MemoryReplayGuard keeps delivery ids in process memory.
type MemoryReplayGuard struct {
	mu     sync.Mutex
	window time.Duration
	ids    map[string]time.Time
	now    func() time.Time
}

// NewMemoryReplayGuard constructs a guard with the given window (default 1h).
func NewMemoryReplayGuard(window time.Duration) *MemoryReplayGuard {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &MemoryReplayGuard{window: window, ids: make(map[string]time.Time), now: time.Now}
}

// Seen implements ReplayGuard.
func (g *MemoryReplayGuard) Seen(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, at := range g.ids {
		if now.Sub(at) > g.window {
			delete(g.ids, k)
		}
	}
	if _, ok := g.ids[id]; ok {
		return true, nil
	}
	g.ids[id] = now
	return false, nil
}

// Forget implements ReplayGuard.
func (g *MemoryReplayGuard) Forget(_ context.Context, id string) error {
	g.mu.Lock()
	delete(g.ids, id)
	g.mu.Unlock()
	return nil
}

// RedisReplayGuard shares delivery ids across instances with SET NX.
type RedisReplayGuard struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
}

// NewRedisReplayGuard constructs a guard storing keys under prefix (default "herald:webhook:").
func NewRedisReplayGuard(client redis.UniversalClient, prefix string, window time.Duration) *RedisReplayGuard {
	if strings.TrimSpace(prefix) == "" {
		prefix = "herald:webhook:"
	}
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &RedisReplayGuard{client: client, prefix: prefix, window: window}
}

// Seen implements ReplayGuard.
func (g *RedisReplayGuard) Seen(ctx context.Context, id string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+id, 1, g.window).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget implements ReplayGuard.
func (g *RedisReplayGuard) Forget(ctx context.Context, id string) error {
	return g.client.Del(ctx, g.prefix+id).Err()
}
