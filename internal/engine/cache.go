package engine

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultQueryCacheSize is the number of benign queries remembered.
const DefaultQueryCacheSize = 100

// QueryCache remembers SQL queries already judged benign so identical
// queries skip re-analysis. Only recency drives eviction; the per-entry hit
// counter is informational.
//
// All operations hold one mutex, so a lookup (which reorders recency) and an
// insert are each atomic with respect to concurrent callers.
type QueryCache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, int]
}

// NewQueryCache creates a cache holding at most size queries.
// A non-positive size falls back to DefaultQueryCacheSize.
func NewQueryCache(size int) *QueryCache {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	l, err := simplelru.NewLRU[string, int](size, nil)
	if err != nil {
		// only returned for non-positive sizes, excluded above
		panic(err)
	}
	return &QueryCache{lru: l}
}

// Lookup reports whether query was previously judged benign. A hit moves
// the entry to the most-recently-used position.
func (c *QueryCache) Lookup(query string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	hits, ok := c.lru.Get(query)
	if !ok {
		return false
	}
	c.lru.Add(query, hits+1)
	return true
}

// Insert marks query benign, evicting the least-recently-used entry when full.
func (c *QueryCache) Insert(query string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru.Contains(query) {
		return
	}
	c.lru.Add(query, 1)
}

// Hits returns the lookup counter of query, 0 when absent.
func (c *QueryCache) Hits(query string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	hits, _ := c.lru.Peek(query)
	return hits
}

// Keys returns the cached queries from least to most recently used.
func (c *QueryCache) Keys() []string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Len returns the number of cached queries.
func (c *QueryCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every entry. Called when a new matrix is published so that
// queries judged under the old configuration are analyzed again.
func (c *QueryCache) Purge() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
