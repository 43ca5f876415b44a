package imagegen

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type cacheEntry struct {
	fingerprint string
	result      *Result
	insertedAt  time.Time
}

// ResultCache is a bounded in-memory cache keyed by request fingerprint.
// Eviction is strict insertion order: inserting past capacity removes the
// single oldest entry, regardless of access recency. The scheduler path
// never touches the cache.
type ResultCache struct {
	mu      sync.Mutex
	enabled bool
	maxSize int
	entries map[string]*cacheEntry
	order   []string
	hits    uint64
	misses  uint64
	logger  *zap.Logger
}

// NewResultCache creates a cache with the given capacity. A non-positive
// capacity or enabled=false yields a cache that always misses.
func NewResultCache(maxSize int, enabled bool, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{
		enabled: enabled && maxSize > 0,
		maxSize: maxSize,
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		logger:  logger.With(zap.String("component", "result_cache")),
	}
}

// Get returns a previously stored result for the fingerprint, if any.
func (c *ResultCache) Get(fingerprint string) (*Result, bool) {
	if c == nil || !c.enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.result, true
}

// Put stores a result under the fingerprint. Failures degrade to a no-op:
// a store that cannot happen must never block the primary result.
func (c *ResultCache) Put(fingerprint string, result *Result) {
	if c == nil || !c.enabled || fingerprint == "" || result == nil || !result.HasImage() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[fingerprint]; exists {
		c.entries[fingerprint].result = result
		return
	}

	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.logger.Debug("evicted oldest cache entry", zap.String("fingerprint", oldest))
	}

	c.entries[fingerprint] = &cacheEntry{
		fingerprint: fingerprint,
		result:      result,
		insertedAt:  time.Now(),
	}
	c.order = append(c.order, fingerprint)
}

// Len returns the number of cached entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *ResultCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear drops all entries.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
}
