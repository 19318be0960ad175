package identity

import (
	"sync"
	"time"

	"github.com/atelierhub/identity-core/internal/models"
)

// CredentialCache is a bounded-TTL cache of resolved users, keyed by the
// identifier a resolution was asked for. It is an optimization in front of
// the store and never a source of truth: a nil *CredentialCache is fully
// functional (every Get misses), so disabling the cache changes latency,
// not correctness.
//
// The cache is per process. In a multi-process deployment each process holds
// an independent copy whose staleness is bounded by the TTL plus the
// cross-process invalidation events.
type CredentialCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	done    chan struct{}
}

type cacheEntry struct {
	user      models.CanonicalUser
	expiresAt time.Time
}

// NewCredentialCache creates a cache with the given default TTL and starts
// a background sweep so expired entries do not accumulate. A ttl <= 0
// returns nil, the disabled cache.
func NewCredentialCache(ttl time.Duration) *CredentialCache {
	if ttl <= 0 {
		return nil
	}
	c := &CredentialCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns a snapshot of the cached user for identifier, or nil on a
// miss or an expired entry.
func (c *CredentialCache) Get(identifier string) *models.CanonicalUser {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	entry, ok := c.entries[identifier]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	user := entry.user
	return &user
}

// Put stores a snapshot of user under identifier. A non-positive ttl uses
// the cache default.
func (c *CredentialCache) Put(identifier string, user *models.CanonicalUser, ttl time.Duration) {
	if c == nil || user == nil || identifier == "" {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.entries[identifier] = cacheEntry{
		user:      *user,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

// Invalidate removes the entry for identifier, if any.
func (c *CredentialCache) Invalidate(identifier string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, identifier)
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *CredentialCache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (c *CredentialCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweep. Tests construct and tear down caches
// repeatedly; leaking the sweeper would fail goroutine-leak checks.
func (c *CredentialCache) Close() {
	if c == nil {
		return
	}
	close(c.done)
}

func (c *CredentialCache) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for identifier, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, identifier)
				}
			}
			c.mu.Unlock()
		}
	}
}
