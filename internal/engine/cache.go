package engine

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cache keeps validated API results in memory for the lifetime of the
// process. Subtitle consensus is expensive (up to 10 requests per track), so
// a verified result is never re-fetched within the TTL.
var resultCache *memCache

// Cache metrics — atomic counters for thread-safe access.
var (
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
)

type memCache struct {
	entries         sync.Map // key → *cacheEntry
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// InitCache sets up the in-memory cache. Call after Init().
func InitCache(ttl time.Duration, maxEntries int, cleanupInterval time.Duration) {
	c := &memCache{ttl: ttl, maxEntries: maxEntries, cleanupInterval: cleanupInterval}
	resultCache = c
	slog.Info("cache: initialized", slog.Duration("ttl", ttl), slog.Int("max_entries", maxEntries))

	go c.cleanupLoop()
}

// CacheKey builds a deterministic cache key from parts.
func CacheKey(parts ...string) string {
	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return fmt.Sprintf("bl:%x", hash[:12]) // 24-char hex prefix
}

// CacheGet returns the cached bytes for key, if present and fresh.
func CacheGet(key string) ([]byte, bool) {
	if resultCache == nil {
		cacheMisses.Add(1)
		return nil, false
	}

	if val, ok := resultCache.entries.Load(key); ok {
		entry := val.(*cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			slog.Debug("cache: hit", slog.String("key", key))
			cacheHits.Add(1)
			return entry.data, true
		}
		resultCache.entries.Delete(key) // expired
	}

	cacheMisses.Add(1)
	return nil, false
}

// CacheSet stores data under key with the configured TTL.
func CacheSet(key string, data []byte) {
	if resultCache == nil {
		return
	}
	if resultCache.maxEntries > 0 && resultCache.size() >= resultCache.maxEntries {
		resultCache.evictOldest()
	}
	resultCache.entries.Store(key, &cacheEntry{
		data:      data,
		expiresAt: time.Now().Add(resultCache.ttl),
	})
}

// CacheStats returns hit/miss counters.
func CacheStats() (hits, misses int64) {
	return cacheHits.Load(), cacheMisses.Load()
}

func (c *memCache) size() int {
	n := 0
	c.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

// evictOldest removes the entry closest to expiry.
func (c *memCache) evictOldest() {
	var oldestKey any
	var oldestAt time.Time
	c.entries.Range(func(k, v any) bool {
		e := v.(*cacheEntry)
		if oldestKey == nil || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = k, e.expiresAt
		}
		return true
	})
	if oldestKey != nil {
		c.entries.Delete(oldestKey)
	}
}

func (c *memCache) cleanupLoop() {
	interval := c.cleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		removed := 0
		c.entries.Range(func(k, v any) bool {
			if now.After(v.(*cacheEntry).expiresAt) {
				c.entries.Delete(k)
				removed++
			}
			return true
		})
		if removed > 0 {
			slog.Debug("cache: cleanup", slog.Int("removed", removed))
		}
	}
}
