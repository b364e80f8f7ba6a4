// ABOUTME: Bounded TTL cache for per-book search results keyed by query.
// ABOUTME: Touch-on-hit keeps active queries warm while stale entries age out.

package textsearch

import (
	"sync"
	"time"
)

const (
	// DefaultMaxEntries bounds how many distinct (library, book, query)
	// results are held before the oldest is evicted.
	DefaultMaxEntries = 50

	// DefaultTTL is how long an untouched entry stays usable.
	DefaultTTL = 30 * time.Minute
)

// Key identifies one cached search: a query against one book in one library.
type Key struct {
	Library string
	BookID  int
	Query   string
}

type entry struct {
	touched time.Time
	matches []Match
}

// Cache stores search results so paging through matches does not re-run the
// full-text scan. Entries expire after a TTL and the cache holds at most
// maxEntries results, evicting the least recently touched when full.
type Cache struct {
	mu         sync.Mutex
	entries    map[Key]*entry
	maxEntries int
	ttl        time.Duration

	now       func() time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// NewCache creates a search result cache. Non-positive arguments fall back to
// the package defaults.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		entries:    make(map[Key]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
		done:       make(chan struct{}),
	}

	go c.janitor()
	return c
}

// Get returns the cached matches for a key, refreshing its timestamp on a hit.
func (c *Cache) Get(key Key) ([]Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok {
		e.touched = c.now()
	}
	c.purgeExpired()

	if !ok {
		return nil, false
	}
	matches := make([]Match, len(e.matches))
	copy(matches, e.matches)
	return matches, true
}

// Put stores search results, evicting the least recently touched entry when
// the cache is at capacity.
func (c *Cache) Put(key Key, matches []Match) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	stored := make([]Match, len(matches))
	copy(stored, matches)
	c.entries[key] = &entry{touched: c.now(), matches: stored}

	c.purgeExpired()
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.purgeExpired()
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// purgeExpired removes entries older than the TTL. Caller holds c.mu.
func (c *Cache) purgeExpired() {
	cutoff := c.now().Add(-c.ttl)
	for k, e := range c.entries {
		if e.touched.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}

// evictOldest drops the single least recently touched entry. Caller holds c.mu.
func (c *Cache) evictOldest() {
	var (
		oldestKey  Key
		oldestTime time.Time
		found      bool
	)
	for k, e := range c.entries {
		if !found || e.touched.Before(oldestTime) {
			oldestKey, oldestTime, found = k, e.touched, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}
