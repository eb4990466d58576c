package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-query-pipeline/internal/model"
)

const defaultMaxSize = 1000

// QueryCache is an LRU cache of computed metrics with a per-entry TTL.
// Keys are hashes of query signatures; the signature text is kept next to
// the entry so pattern invalidation can match on it.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	logger  *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

type cacheEntry struct {
	key       string
	signature string
	result    *model.MetricsResult
	expiresAt time.Time
}

// Option customizes a QueryCache
type Option func(*QueryCache)

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(c *QueryCache) { c.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *QueryCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a cache from config
func New(cfg model.CacheConfig, opts ...Option) *QueryCache {
	c := &QueryCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		now:     time.Now,
		logger:  slog.Default(),
	}
	if c.maxSize <= 0 {
		c.maxSize = defaultMaxSize
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "query_cache")
	return c
}

// Key hashes a signature into the cache key
func Key(signature string) string {
	sum := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the cached result, or false when missing or expired.
// Expired entries are removed on access.
func (c *QueryCache) Get(signature string) (*model.MetricsResult, bool) {
	key := Key(signature)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	c.lru.MoveToFront(elem)
	c.hits.Add(1)

	out := entry.result.Clone()
	out.CacheHit = true
	return out, true
}

// Set stores a copy of result under signature, evicting the least recently
// used entry when full
func (c *QueryCache) Set(signature string, result *model.MetricsResult) {
	if result == nil {
		return
	}
	key := Key(signature)
	stored := result.Clone()
	stored.CacheHit = false

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.result = stored
		entry.expiresAt = c.now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.maxSize {
		c.evictOldest()
	}

	elem := c.lru.PushFront(&cacheEntry{
		key:       key,
		signature: signature,
		result:    stored,
		expiresAt: c.now().Add(c.ttl),
	})
	c.entries[key] = elem
}

// InvalidatePattern drops every entry whose signature contains pattern.
// An empty pattern clears the cache. Returns the number of entries removed.
func (c *QueryCache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		n := c.lru.Len()
		c.reset()
		c.logger.Info("cache cleared", "removed", n)
		return n
	}

	removed := 0
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		if strings.Contains(elem.Value.(*cacheEntry).signature, pattern) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	c.logger.Info("cache invalidated", "pattern", pattern, "removed", removed)
	return removed
}

// Clear empties the cache; counters are kept
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Len counts entries, including expired ones not yet touched
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of cache counters
func (c *QueryCache) Stats() model.CacheStats {
	return model.CacheStats{
		Entries:   c.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}

func (c *QueryCache) reset() {
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
}

// evictOldest must be called with mu held
func (c *QueryCache) evictOldest() {
	if elem := c.lru.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions.Add(1)
	}
}

// removeElement must be called with mu held
func (c *QueryCache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.entries, elem.Value.(*cacheEntry).key)
}
