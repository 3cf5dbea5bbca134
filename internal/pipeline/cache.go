package pipeline

import (
	"log"
	"sync"
	"time"
)

// translationCacheEntry is a cached translation with an expiry.
type translationCacheEntry struct {
	text      string
	expiresAt time.Time
}

// translationCache memoizes (text, source, target) -> translation for a
// short TTL. Purely an optimization: a cache miss behaves identically to
// an uncached call, so this never participates in correctness.
// Adapted from the teacher's internal/aws/cache.go, trimmed to drop the
// TTS cache half (TTS/Polly is out of scope for this spec).
type translationCache struct {
	entries sync.Map // key: string -> *translationCacheEntry

	ttl             time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

func newTranslationCache(ttl, cleanupInterval time.Duration) *translationCache {
	c := &translationCache{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func cacheKey(text, source, target string) string {
	return source + ":" + target + ":" + text
}

func (c *translationCache) Get(text, source, target string) (string, bool) {
	v, ok := c.entries.Load(cacheKey(text, source, target))
	if !ok {
		return "", false
	}
	entry := v.(*translationCacheEntry)
	if time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.text, true
}

func (c *translationCache) Put(text, source, target, translated string) {
	c.entries.Store(cacheKey(text, source, target), &translationCacheEntry{
		text:      translated,
		expiresAt: time.Now().Add(c.ttl),
	})
}

func (c *translationCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *translationCache) cleanup() {
	now := time.Now()
	removed := 0
	c.entries.Range(func(key, value interface{}) bool {
		entry := value.(*translationCacheEntry)
		if now.After(entry.expiresAt) {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	if removed > 0 {
		log.Printf("[pipeline cache] cleanup: removed %d entries", removed)
	}
}

func (c *translationCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
}
