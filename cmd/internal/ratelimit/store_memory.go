package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps window state in process memory. It is exact for a single
// instance only.
type MemoryStore struct {
	mu      sync.Mutex
	maxKeys int
	data    map[string]*Entry
}

// NewMemoryStore constructs a MemoryStore tracking at most maxKeys live keys (default 10000).
func NewMemoryStore(maxKeys int) *MemoryStore {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &MemoryStore{maxKeys: maxKeys, data: make(map[string]*Entry)}
}

// Increment implements Store.
func (m *MemoryStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if strings.TrimSpace(key) == "" || window <= 0 {
		return Entry{}, ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if ok && e.Expired(now) {
		delete(m.data, key)
		ok = false
	}
	if !ok {
		if len(m.data) >= m.maxKeys {
			m.gc(now)
		}
		if len(m.data) >= m.maxKeys {
			return Entry{}, ErrCapacity
		}
		e = &Entry{Key: key, WindowStart: now, Window: window}
		m.data[key] = e
	}
	e.Count++
	return *e, nil
}

// Sweep deletes expired entries.
func (m *MemoryStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gc(now), nil
}

// Len returns the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *MemoryStore) gc(now time.Time) int64 {
	var n int64
	for key, e := range m.data {
		if e.Expired(now) {
			delete(m.data, key)
			n++
		}
	}
	return n
}
