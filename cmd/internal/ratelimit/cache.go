package ratelimit

import (
	"sync"
	"time"
)

const defaultCacheKeys = 10000

type cachedDecision struct {
	decision Decision
	until    time.Time
}

// deniedCache remembers keys already over their limit so repeated checks skip the store.
type deniedCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxKeys int
	data    map[string]cachedDecision
}

func newDeniedCache(ttl time.Duration, maxKeys int) *deniedCache {
	return &deniedCache{ttl: ttl, maxKeys: maxKeys, data: make(map[string]cachedDecision)}
}

func (c *deniedCache) get(key string, now time.Time) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cd, ok := c.data[key]
	if !ok {
		return Decision{}, false
	}
	if !now.Before(cd.until) {
		delete(c.data, key)
		return Decision{}, false
	}
	return cd.decision, true
}

// put caches d until min(now+ttl, d.ResetAt).
func (c *deniedCache) put(key string, d Decision, now time.Time) {
	until := now.Add(c.ttl)
	if d.ResetAt.Before(until) {
		until = d.ResetAt
	}
	if !until.After(now) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxKeys {
		for k, v := range c.data {
			if !now.Before(v.until) {
				delete(c.data, k)
			}
		}
		if len(c.data) >= c.maxKeys {
			return
		}
	}
	c.data[key] = cachedDecision{decision: d, until: until}
}
