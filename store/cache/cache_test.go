package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(maxItems int, ttl time.Duration) *Cache {
	return New(Config{
		DefaultTTL:      ttl,
		CleanupInterval: time.Hour,
		MaxItems:        maxItems,
	})
}

func TestCacheSetGet(t *testing.T) {
	c := newTestCache(10, time.Minute)
	defer c.Close()

	c.Set("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = c.Get("missing")
	require.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := newTestCache(10, time.Minute)
	defer c.Close()

	c.SetWithTTL("short", "v", 10*time.Millisecond)
	_, ok := c.Get("short")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := c.Get("short")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(10, time.Minute)
	defer c.Close()

	c.Set("a", 1)
	c.Delete("a")
	_, ok := c.Get("a")
	require.False(t, ok)
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	c := newTestCache(2, time.Minute)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	require.Equal(t, 2, c.Len())

	_, ok := c.Get("c")
	require.True(t, ok)
}
