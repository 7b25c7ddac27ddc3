package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lborres/gatekeep/core"
)

var _ core.CacheWithStats = (*InMemoryCache)(nil)

// InMemoryCache implements an in-memory session cache keyed by token hash.
// An entry lives until the cache TTL elapses or the session expires,
// whichever comes first.
type InMemoryCache struct {
	cache   map[string]*cachedRecord
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	// counters
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
}

type cachedRecord struct {
	session   *core.Session
	cachedAt  time.Time
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache
func NewInMemoryCache(c core.CacheConfig) *InMemoryCache {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 500
	}

	return &InMemoryCache{
		cache:   make(map[string]*cachedRecord),
		ttl:     c.TTL,
		maxSize: c.MaxSize,
		now:     time.Now,
	}
}

// Get retrieves a session from cache
func (c *InMemoryCache) Get(tokenHash string) (*core.Session, error) {
	c.mu.RLock()
	record, exists := c.cache[tokenHash]
	c.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, core.ErrCacheNotFound
	}

	if !c.now().Before(record.expiresAt) {
		atomic.AddInt64(&c.misses, 1)
		c.mu.Lock()
		// only drop the record we looked at; a concurrent Set may have replaced it
		if c.cache[tokenHash] == record {
			delete(c.cache, tokenHash)
			atomic.AddInt64(&c.evictions, 1)
		}
		c.mu.Unlock()
		return nil, core.ErrCacheNotFound
	}

	atomic.AddInt64(&c.hits, 1)
	return record.session, nil
}

// Set stores a session in cache
func (c *InMemoryCache) Set(tokenHash string, session *core.Session) error {
	now := c.now()
	expiresAt := now.Add(c.ttl)
	if !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(expiresAt) {
		expiresAt = session.ExpiresAt
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, replacing := c.cache[tokenHash]; !replacing && len(c.cache) >= c.maxSize {
		c.evictOldestLocked()
	}

	c.cache[tokenHash] = &cachedRecord{
		session:   session,
		cachedAt:  now,
		expiresAt: expiresAt,
	}

	atomic.AddInt64(&c.sets, 1)
	return nil
}

func (c *InMemoryCache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, r := range c.cache {
		if oldestKey == "" || r.cachedAt.Before(oldestAt) {
			oldestKey, oldestAt = k, r.cachedAt
		}
	}
	if oldestKey != "" {
		delete(c.cache, oldestKey)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// Delete removes a session from cache
func (c *InMemoryCache) Delete(tokenHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, existed := c.cache[tokenHash]; existed {
		delete(c.cache, tokenHash)
		atomic.AddInt64(&c.deletes, 1)
	}
	return nil
}

// Clear removes all sessions from cache
func (c *InMemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	atomic.AddInt64(&c.deletes, int64(len(c.cache)))
	c.cache = make(map[string]*cachedRecord)
	return nil
}

// Len returns the number of cached sessions
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Stats returns cache statistics
func (c *InMemoryCache) Stats() core.CacheStats {
	return core.CacheStats{
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Sets:      atomic.LoadInt64(&c.sets),
		Deletes:   atomic.LoadInt64(&c.deletes),
		Evictions: atomic.LoadInt64(&c.evictions),
		Size:      c.Len(),
		TTL:       c.ttl,
	}
}
