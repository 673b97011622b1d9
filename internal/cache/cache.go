// Package cache holds read-side views of sessions served to clients and
// drops them when the orchestrator recomputes a session.
package cache

import (
	"log/slog"
	"sync"
)

// Key identifies one cached read.
type Key string

// SessionKey is the cached detail view of one session.
func SessionKey(sessionID string) Key {
	return Key("session:" + sessionID)
}

// SessionKeys returns every key that must be dropped after a session changes.
func SessionKeys(sessionID string) []Key {
	return []Key{SessionKey(sessionID)}
}

// Publisher broadcasts invalidations to out-of-process readers.
type Publisher interface {
	Publish(subject string, data any) error
}

// Cache is an in-process read cache. Entries live until invalidated.
// Every invalidation bumps the key's generation, so a reader that loaded
// before the invalidation cannot store its stale value afterwards.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]any
	gens    map[Key]uint64

	pub     Publisher
	subject string
	logger  *slog.Logger
}

// New creates a cache. pub may be nil when no remote readers exist.
func New(pub Publisher, subject string, logger *slog.Logger) *Cache {
	return &Cache{
		entries: make(map[Key]any),
		gens:    make(map[Key]uint64),
		pub:     pub,
		subject: subject,
		logger:  logger,
	}
}

// Get returns the cached value for key and the key's current generation.
// The generation is returned on a miss too; pass it to PutIfCurrent after
// loading the value.
func (c *Cache) Get(key Key) (any, uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.entries[key]
	return v, c.gens[key], ok
}

// Put stores value under key unconditionally.
func (c *Cache) Put(key Key, value any) {
	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()
}

// PutIfCurrent stores value only if key has not been invalidated since gen
// was read. It reports whether the value was stored.
func (c *Cache) PutIfCurrent(key Key, gen uint64, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[key] != gen {
		return false
	}
	c.entries[key] = value
	return true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Invalidate drops keys locally and announces them so UI clients refetch.
func (c *Cache) Invalidate(keys []Key) {
	if len(keys) == 0 {
		return
	}

	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
		c.gens[k]++
	}
	c.mu.Unlock()

	if c.pub == nil {
		return
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	if err := c.pub.Publish(c.subject, map[string]any{"keys": names}); err != nil {
		c.logger.Warn("failed to publish cache invalidation", "error", err, "keys", names)
	}
}
