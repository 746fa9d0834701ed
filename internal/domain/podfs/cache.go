package podfs

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/podfs/internal/protocol"
)

// ListingCache holds listings returned inline by stat, keyed by URI. An
// entry is handed out at most once and dropped after the TTL either way.
type ListingCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	files []protocol.Entry
	timer *time.Timer
}

// NewListingCache creates a cache whose entries live for ttl.
func NewListingCache(ttl time.Duration) *ListingCache {
	return &ListingCache{ttl: ttl, entries: make(map[string]*cacheEntry)}
}

// Put stores files for key, replacing any earlier entry.
func (c *ListingCache) Put(key string, files []protocol.Entry) {
	if c.ttl <= 0 {
		return
	}
	e := &cacheEntry{files: files}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		old.timer.Stop()
	}
	c.entries[key] = e
	// Only the entry this timer was armed for is removed.
	e.timer = time.AfterFunc(c.ttl, func() {
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	})
	c.mu.Unlock()
}

// Take removes and returns the entry for key.
func (c *ListingCache) Take(key string) ([]protocol.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	delete(c.entries, key)
	e.timer.Stop()
	return e.files, true
}

// Invalidate drops the entry for key.
func (c *ListingCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.timer.Stop()
		delete(c.entries, key)
	}
}

// Len returns the number of live entries.
func (c *ListingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
