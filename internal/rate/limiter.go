// Package rate implements the per-caller request limiting used by the
// HTTP layer for submissions and token requests.
package rate

import (
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string, limit int, window time.Duration) (bool, time.Duration)
}

// MemoryLimiter counts requests per key in fixed windows. Buckets for
// keys that stopped arriving are pruned opportunistically so the map
// does not grow with one entry per client forever.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	hits    int
	resetAt time.Time
	window  time.Duration
}

const pruneEvery = 5 * time.Minute

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*bucket), lastPrune: time.Now()}
}

func (m *MemoryLimiter) Allow(key string, limit int, window time.Duration) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.pruneLocked(now)

	b, ok := m.buckets[key]
	if !ok || now.After(b.resetAt) || b.window != window {
		b = &bucket{resetAt: now.Add(window), window: window}
		m.buckets[key] = b
	}

	if b.hits >= limit {
		return false, time.Until(b.resetAt)
	}
	b.hits++
	return true, time.Until(b.resetAt)
}

func (m *MemoryLimiter) pruneLocked(now time.Time) {
	if now.Sub(m.lastPrune) < pruneEvery {
		return
	}
	for key, b := range m.buckets {
		if now.After(b.resetAt) {
			delete(m.buckets, key)
		}
	}
	m.lastPrune = now
}
