package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryCache[string](time.Minute, 0)
	c.now = func() time.Time { return now }

	c.Set("a", "alpha", 0)
	c.Set("b", "beta", 5*time.Minute)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	v, ok = c.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "beta", v)
	assert.Equal(t, 1, c.Size())
}

func TestMemoryCache_EvictsOldest(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryCache[int](time.Hour, 2)
	c.now = func() time.Time { return now }

	c.Set("first", 1, 0)
	now = now.Add(time.Second)
	c.Set("second", 2, 0)
	now = now.Add(time.Second)
	c.Set("second", 22, 0)
	assert.Equal(t, 2, c.Size())

	c.Set("third", 3, 0)

	_, ok := c.Get("first")
	assert.False(t, ok)
	v, _ := c.Get("second")
	assert.Equal(t, 22, v)
	v, _ = c.Get("third")
	assert.Equal(t, 3, v)
}

func TestMemoryCache_Cleanup(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewMemoryCache[int](time.Minute, 0)
	c.now = func() time.Time { return now }
	c.Set("a", 1, 0)
	c.Delete("missing")

	now = now.Add(time.Hour)
	c.cleanupExpired()
	assert.Equal(t, 0, c.Size())

	stop := c.StartCleanup(time.Millisecond)
	stop()
	stop()
}
