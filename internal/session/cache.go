// Package session provides the ephemeral cross-turn session store: two
// time-bounded key/value caches keyed by session ID. One holds pending
// crisis-confirmation state, the other extracted-document results. Entries
// expire strictly by TTL; insertion overwrites; the pending cache is
// consumed on read.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cache is a TTL-bounded key/value map. All operations are atomic per call,
// so overlapping requests for the same session cannot observe a torn
// read-modify-write. Expiry is enforced lazily on access and by an optional
// background sweeper.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewCache creates a cache whose entries live for ttl after insertion.
func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Put stores value under key, overwriting any existing entry and resetting
// its expiry.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Get returns the live entry for key without consuming it.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Take returns the live entry for key and removes it. A subsequent Take or
// Get for the same key misses until the next Put.
func (c *Cache[V]) Take(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	delete(c.entries, key)
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len reports the number of entries currently held, including any that have
// expired but not yet been swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweep removes all expired entries and returns how many were evicted.
func (c *Cache[V]) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	evicted := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs a background goroutine that periodically evicts expired
// entries until ctx is cancelled.
func (c *Cache[V]) StartSweeper(ctx context.Context, interval time.Duration, name string) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session cache sweeper started", "cache", name, "interval", interval, "ttl", c.ttl)
		for {
			select {
			case <-ticker.C:
				if n := c.sweep(); n > 0 {
					slog.Debug("Session cache sweep evicted entries", "cache", name, "count", n)
				}
			case <-ctx.Done():
				slog.Info("Session cache sweeper shutting down", "cache", name, "reason", ctx.Err())
				return
			}
		}
	}()
}
