// Package cache provides advisory snapshot caches for the validation read
// path. Implementations satisfy coupon.SnapshotCache and are free to drop
// entries at any time: correctness never depends on a cache hit, and the
// redemption path bypasses caching entirely.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/vouchly/coupon-engine/internal/coupon"
)

var _ coupon.SnapshotCache = (*Memory)(nil)

type memoryEntry struct {
	coupon    coupon.Coupon
	expiresAt time.Time
}

// Memory is an in-process TTL cache for coupon snapshots. Suitable for a
// single node and for tests; multi-node deployments should use Redis so an
// invalidation on one node is seen by all.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the cached snapshot for the code, if present and
// not past its TTL. Expired entries are evicted lazily.
func (m *Memory) Get(_ context.Context, code string) (*coupon.Coupon, bool) {
	m.mu.RLock()
	e, ok := m.entries[code]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; a Set may have refreshed it.
		if cur, ok := m.entries[code]; ok && m.now().After(cur.expiresAt) {
			delete(m.entries, code)
		}
		m.mu.Unlock()
		return nil, false
	}
	c := e.coupon
	return &c, true
}

// Set stores a copy of the snapshot under the code for the given TTL.
// A non-positive TTL stores nothing.
func (m *Memory) Set(_ context.Context, code string, c *coupon.Coupon, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[code] = memoryEntry{
		coupon:    *c,
		expiresAt: m.now().Add(ttl),
	}
}

// Invalidate drops the entry for the code, if any.
func (m *Memory) Invalidate(_ context.Context, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, code)
}
