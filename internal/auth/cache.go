package auth

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"time"
)

// AuthCache remembers verified projects so the evaluate hot path skips the
// database and bcrypt. Entries are keyed by a digest of the API key, never
// the key itself.
//
// Stale-while-revalidate: an expired entry is still returned, and exactly one
// reader is told to refresh it.
type AuthCache struct {
	store sync.Map // map[[32]byte]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	project    *ProjectContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewAuthCache creates a cache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	return &AuthCache{ttl: ttl}
}

// GetResult holds the result of a cache lookup.
type GetResult struct {
	Project      *ProjectContext
	Hit          bool // fresh or stale value found
	NeedsRefresh bool // caller owns the background refresh
}

func cacheKey(apiKey string) [32]byte {
	return sha256.Sum256([]byte(apiKey))
}

// Get looks up the API key.
//
//   - Fresh hit:  {Project, Hit=true,  NeedsRefresh=false}
//   - Stale hit:  {Project, Hit=true,  NeedsRefresh=true} for one caller only
//   - Miss:       {nil,     Hit=false, NeedsRefresh=false}
func (c *AuthCache) Get(apiKey string) GetResult {
	val, ok := c.store.Load(cacheKey(apiKey))
	if !ok {
		return GetResult{}
	}
	entry := val.(*cacheEntry)

	if time.Now().Before(entry.expiresAt) {
		return GetResult{Project: entry.project, Hit: true}
	}
	return GetResult{
		Project:      entry.project,
		Hit:          true,
		NeedsRefresh: entry.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores a project with the configured TTL.
func (c *AuthCache) Set(apiKey string, project *ProjectContext) {
	c.store.Store(cacheKey(apiKey), &cacheEntry{
		project:   project,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes the entry for one API key.
func (c *AuthCache) Delete(apiKey string) {
	c.store.Delete(cacheKey(apiKey))
}

// ForgetProject drops every entry resolving to projectID, so a mode or key
// change is seen on the next call instead of after the TTL.
func (c *AuthCache) ForgetProject(projectID string) int {
	n := 0
	c.store.Range(func(k, v any) bool {
		if v.(*cacheEntry).project.ProjectID == projectID {
			c.store.Delete(k)
			n++
		}
		return true
	})
	return n
}

// Len counts cached entries, fresh and stale.
func (c *AuthCache) Len() int {
	n := 0
	c.store.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
