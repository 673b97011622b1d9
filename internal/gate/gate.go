// Package gate provides a keyed, non-blocking mutual-exclusion guard.
//
// A key is held by at most one operation at a time. Acquiring a held key
// never waits: the caller is told to skip.
package gate

import (
	"sort"
	"sync"
)

// Gate tracks the set of session keys currently being processed.
type Gate struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New returns an empty gate.
func New() *Gate {
	return &Gate{held: make(map[string]struct{})}
}

// TryAcquire marks key as held and returns true, or returns false
// immediately when another operation already holds it.
func (g *Gate) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.held[key]; ok {
		return false
	}
	g.held[key] = struct{}{}
	return true
}

// Release clears the held mark. Releasing a key that is not held is a no-op.
func (g *Gate) Release(key string) {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
}

// Held reports whether key is currently held.
func (g *Gate) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.held[key]
	return ok
}

// Len returns the number of held keys.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.held)
}

// Keys returns the held keys in sorted order.
func (g *Gate) Keys() []string {
	g.mu.Lock()
	keys := make([]string, 0, len(g.held))
	for k := range g.held {
		keys = append(keys, k)
	}
	g.mu.Unlock()

	sort.Strings(keys)
	return keys
}
