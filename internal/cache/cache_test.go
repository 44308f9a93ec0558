package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheSetGet(t *testing.T) {
	c := NewCache(time.Minute)

	c.Set("k", "v")
	got, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(20 * time.Millisecond)

	c.Set("k", "v")
	time.Sleep(40 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok, "expired items must not be served")
}

func TestCacheInvalidateAll(t *testing.T) {
	c := NewCache(time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.InvalidateAll()

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, Key("stats", "o", "r", 90, "overall"), Key("stats", "o", "r", 90, "overall"))
	assert.NotEqual(t, Key("stats", "o", "r", 90, "overall"), Key("stats", "o", "r", 30, "overall"))
}
