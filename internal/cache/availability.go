package cache

import (
	"sync"
	"time"

	"github.com/callwatch/backend/internal/clock"
	"github.com/callwatch/backend/internal/types"
)

const (
	// Validity is how long a cached availability read stays fresh.
	// Presence queries are cheap but bursty; a short window absorbs
	// the bursts without hiding real registration changes.
	Validity = 5 * time.Second
)

type cached struct {
	entry types.AvailabilityEntry
	at    time.Time
}

// AvailabilityCache holds short-lived per-extension registration state.
// Reads past the validity window report a miss so callers re-query the
// switch.
type AvailabilityCache struct {
	clk clock.Clock

	mu      sync.RWMutex
	entries map[string]cached
	allAt   time.Time
	allSet  bool
}

// NewAvailabilityCache creates an empty cache using the given clock
func NewAvailabilityCache(clk clock.Clock) *AvailabilityCache {
	return &AvailabilityCache{
		clk:     clk,
		entries: make(map[string]cached),
	}
}

// Get returns a fresh entry for the extension, if one exists
func (c *AvailabilityCache) Get(extension string) (types.AvailabilityEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[extension]
	if !ok || c.clk.Now().Sub(e.at) > Validity {
		return types.AvailabilityEntry{}, false
	}
	return e.entry, true
}

// Put stores or refreshes a single extension's entry
func (c *AvailabilityCache) Put(entry types.AvailabilityEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.Extension] = cached{entry: entry, at: c.clk.Now()}
}

// PutAll replaces the whole set and marks it fresh, so GetAll can serve
// bulk reads without another round trip.
func (c *AvailabilityCache) PutAll(entries []types.AvailabilityEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	c.entries = make(map[string]cached, len(entries))
	for _, e := range entries {
		c.entries[e.Extension] = cached{entry: e, at: now}
	}
	c.allAt = now
	c.allSet = true
}

// GetAll returns every entry if the whole set is still fresh
func (c *AvailabilityCache) GetAll() ([]types.AvailabilityEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.allSet || c.clk.Now().Sub(c.allAt) > Validity {
		return nil, false
	}
	out := make([]types.AvailabilityEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.entry)
	}
	return out, true
}

// Invalidate drops one extension's entry and the whole-set freshness
func (c *AvailabilityCache) Invalidate(extension string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, extension)
	c.allSet = false
}

// InvalidateAll drops everything
func (c *AvailabilityCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cached)
	c.allSet = false
}

// Count returns the number of cached entries regardless of freshness
func (c *AvailabilityCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
