package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheGetMiss(t *testing.T) {
	c := newTranslationCache(time.Minute, time.Hour)
	defer c.Close()

	_, ok := c.Get("hello", "en", "es")
	assert.False(t, ok)
}

func TestCachePutGet(t *testing.T) {
	c := newTranslationCache(time.Minute, time.Hour)
	defer c.Close()

	c.Put("hello", "en", "es", "hola")

	got, ok := c.Get("hello", "en", "es")
	require.True(t, ok)
	assert.Equal(t, "hola", got)
}

func TestCacheExpiry(t *testing.T) {
	c := newTranslationCache(time.Millisecond, time.Hour)
	defer c.Close()

	c.Put("hello", "en", "es", "hola")
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("hello", "en", "es")
	assert.False(t, ok)
}

func TestCacheKeyIsolatesLanguagePair(t *testing.T) {
	c := newTranslationCache(time.Minute, time.Hour)
	defer c.Close()

	c.Put("hello", "en", "es", "hola")

	_, ok := c.Get("hello", "en", "fr")
	assert.False(t, ok, "a cached en->es translation must not answer an en->fr lookup")
}

func TestCacheCleanupRemovesExpiredEntries(t *testing.T) {
	c := newTranslationCache(time.Millisecond, 10*time.Millisecond)
	defer c.Close()

	c.Put("hello", "en", "es", "hola")
	time.Sleep(30 * time.Millisecond)

	var count int
	c.entries.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	assert.Equal(t, 0, count)
}
