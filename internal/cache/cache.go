// Package cache provides thread-safe in-memory caching with TTL expiry
// and LRU eviction.
//
// It backs the GitHub analytics responses, Salesforce describe results,
// and dashboard aggregates so repeated reads don't hammer external APIs
// or MongoDB.
//
// Example usage:
//
//	c := cache.New(5*time.Minute, 200)
//	c.Set("repo:octocat/hello", stats)
//	v, ok := c.Get("repo:octocat/hello")
package cache

import (
	"sync"
	"time"
)

// Entry represents a cached value.
type Entry struct {
	// Key is the cache key.
	Key string

	// Value is the cached data.
	Value any

	// ExpiresAt is when this entry should be evicted.
	ExpiresAt time.Time

	// CreatedAt is when this entry was created.
	CreatedAt time.Time

	// lastAccessed tracks LRU eviction (internal use only).
	lastAccessed time.Time
}

// Cache provides thread-safe in-memory caching with TTL and LRU eviction.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
	metrics    *Metrics // optional
}

// New creates a cache with the given default TTL and maximum entry count.
// When the cache is full, the least recently used entry is evicted.
func New(ttl time.Duration, maxEntries int) *Cache {
	return &Cache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// SetMetrics attaches a metrics tracker. Optional.
func (c *Cache) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Set stores a value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value under key with an explicit TTL.
//
// An existing entry for the key is replaced. If the cache is at capacity,
// the least recently used entry is evicted first.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[key]; !exists {
			c.evictLRU()
		}
	}

	c.entries[key] = &Entry{
		Key:          key,
		Value:        value,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
		lastAccessed: now,
	}

	if c.metrics != nil {
		c.metrics.SetSize(len(c.entries))
	}
}

// Get retrieves the value for key.
//
// Expired entries count as misses and are removed on read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	metrics := c.metrics
	c.mu.RUnlock()

	if !exists {
		if metrics != nil {
			metrics.RecordMiss()
		}
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.deleteExpired(key, entry)
		if metrics != nil {
			metrics.RecordMiss()
		}
		return nil, false
	}

	c.mu.Lock()
	entry.lastAccessed = time.Now()
	c.mu.Unlock()

	if metrics != nil {
		metrics.RecordHit()
	}
	return entry.Value, true
}

// deleteExpired removes an entry observed as expired under the read
// lock. A concurrent Set may have replaced it in the meantime, so only
// the entry that was actually seen is deleted.
func (c *Cache) deleteExpired(key string, seen *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.entries[key]; ok && current == seen {
		delete(c.entries, key)
		if c.metrics != nil {
			c.metrics.SetSize(len(c.entries))
		}
	}
}

// Delete removes an entry. No-op if the key is absent.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)

	if c.metrics != nil {
		c.metrics.SetSize(len(c.entries))
	}
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)

	if c.metrics != nil {
		c.metrics.SetSize(0)
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictLRU removes the least recently used entry.
// Caller must hold the write lock.
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	first := true
	for key, entry := range c.entries {
		if first || entry.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessed
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
