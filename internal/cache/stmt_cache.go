// Package cache provides the prepared statement cache used by Strata pools.
// Statements are keyed by their rendered SQL text and evicted LRU.
package cache

import (
	"container/list"
	"database/sql"
	"sync"
	"sync/atomic"
)

const (
	// DefaultStmtCacheCapacity is the default maximum number of cached
	// prepared statements.
	DefaultStmtCacheCapacity = 1000
)

// StmtCache stores prepared statements with LRU eviction. Entries can be
// pinned while a transaction is using them so eviction never closes a
// statement out from under an open transaction.
type StmtCache struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]*list.Element
	lruList  *list.List

	// Metrics using atomic for lock-free access.
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// cacheEntry represents a single cached prepared statement.
type cacheEntry struct {
	key    string
	stmt   *sql.Stmt
	pinned int
}

// NewStmtCache creates a prepared statement cache with default capacity.
func NewStmtCache() *StmtCache {
	return NewStmtCacheWithCapacity(DefaultStmtCacheCapacity)
}

// NewStmtCacheWithCapacity creates a prepared statement cache with the given
// capacity. Non-positive capacities fall back to the default.
func NewStmtCacheWithCapacity(capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = DefaultStmtCacheCapacity
	}
	return &StmtCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Get retrieves a prepared statement by its rendered SQL text.
// Accessing a statement moves it to the front of the LRU list.
func (sc *StmtCache) Get(key string) (*sql.Stmt, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	elem, exists := sc.items[key]
	if !exists {
		sc.misses.Add(1)
		return nil, false
	}

	sc.lruList.MoveToFront(elem)
	sc.hits.Add(1)

	entry := elem.Value.(*cacheEntry)
	return entry.stmt, true
}

// Set stores a prepared statement under its rendered SQL text.
// At capacity the least recently used unpinned statement is evicted and
// closed.
func (sc *StmtCache) Set(key string, stmt *sql.Stmt) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if elem, exists := sc.items[key]; exists {
		sc.lruList.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		_ = entry.stmt.Close()
		entry.stmt = stmt
		return
	}

	if sc.lruList.Len() >= sc.capacity {
		sc.evictOldest()
	}

	elem := sc.lruList.PushFront(&cacheEntry{key: key, stmt: stmt})
	sc.items[key] = elem
}

// Pin marks a cached statement as in use, protecting it from eviction.
// Pins nest: each Pin needs a matching Unpin. Returns false when the key
// is not cached.
func (sc *StmtCache) Pin(key string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	elem, exists := sc.items[key]
	if !exists {
		return false
	}
	elem.Value.(*cacheEntry).pinned++
	return true
}

// Unpin releases one pin on a cached statement. Unpinning below zero or a
// missing key is harmless and reports true so teardown paths never branch.
func (sc *StmtCache) Unpin(key string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	elem, exists := sc.items[key]
	if !exists {
		return true
	}
	entry := elem.Value.(*cacheEntry)
	if entry.pinned > 0 {
		entry.pinned--
	}
	return true
}

// IsPinned reports whether the key is cached and currently pinned.
func (sc *StmtCache) IsPinned(key string) bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	elem, exists := sc.items[key]
	if !exists {
		return false
	}
	return elem.Value.(*cacheEntry).pinned > 0
}

// evictOldest removes and closes the least recently used unpinned statement.
// When every entry is pinned the cache grows past capacity rather than
// closing a live statement. Must be called with lock held.
func (sc *StmtCache) evictOldest() {
	for elem := sc.lruList.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry)
		if entry.pinned > 0 {
			continue
		}
		sc.lruList.Remove(elem)
		delete(sc.items, entry.key)
		_ = entry.stmt.Close()
		sc.evictions.Add(1)
		return
	}
}

// Clear closes and removes all cached prepared statements, pinned or not.
func (sc *StmtCache) Clear() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	for elem := sc.lruList.Front(); elem != nil; elem = elem.Next() {
		entry := elem.Value.(*cacheEntry)
		_ = entry.stmt.Close()
	}

	sc.items = make(map[string]*list.Element, sc.capacity)
	sc.lruList.Init()
}

// Stats holds cache performance metrics.
type Stats struct {
	Size      int     // Current number of cached statements.
	Capacity  int     // Maximum capacity.
	Hits      uint64  // Number of successful cache lookups.
	Misses    uint64  // Number of cache misses.
	Evictions uint64  // Number of evicted statements.
	HitRate   float64 // Cache hit rate (hits / total requests).
}

// Stats returns cache statistics.
func (sc *StmtCache) Stats() Stats {
	sc.mu.RLock()
	size := sc.lruList.Len()
	sc.mu.RUnlock()

	hits := sc.hits.Load()
	misses := sc.misses.Load()
	evictions := sc.evictions.Load()

	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:      size,
		Capacity:  sc.capacity,
		Hits:      hits,
		Misses:    misses,
		Evictions: evictions,
		HitRate:   hitRate,
	}
}
