package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalCache(t *testing.T) {
	t.Run("clamps capacity to one", func(t *testing.T) {
		c := NewLocalCache(0)
		assert.Equal(t, 1, c.Stats().Capacity)
	})

	t.Run("starts empty", func(t *testing.T) {
		c := NewLocalCache(4)
		assert.Equal(t, 0, c.Len())
	})
}

func TestLocalCache_PutGet(t *testing.T) {
	c := NewLocalCache(4)

	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLocalCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLocalCache(3)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Inserting a fourth key evicts exactly the oldest one.
	c.Put("d", 4)

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Contains("a"))
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.True(t, c.Contains("d"))
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestLocalCache_GetRefreshesRecency(t *testing.T) {
	c := NewLocalCache(3)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", 4)

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.True(t, c.Contains("d"))
}

func TestLocalCache_UpdateExistingKey(t *testing.T) {
	c := NewLocalCache(2)

	c.Put("a", 1)
	c.Put("b", 2)

	// Replacing a value must not evict anything.
	c.Put("a", 10)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	// The replace also refreshed recency, so "b" goes first.
	c.Put("c", 3)
	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
}

func TestLocalCache_Delete(t *testing.T) {
	c := NewLocalCache(2)

	c.Put("a", 1)
	c.Delete("a")
	c.Delete("missing")

	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Contains("a"))
}

func TestLocalCache_Purge(t *testing.T) {
	c := NewLocalCache(4)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Purge()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestLocalCache_Stats(t *testing.T) {
	c := NewLocalCache(2)

	c.Put("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, 2, s.Capacity)
}

func TestLocalCache_Concurrent(t *testing.T) {
	c := NewLocalCache(32)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d-%d", g, i%40)
				c.Put(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	// The bound holds no matter the interleaving.
	assert.LessOrEqual(t, c.Len(), 32)
}

func BenchmarkLocalCache_Get(b *testing.B) {
	c := NewLocalCache(1024)
	for i := 0; i < 1024; i++ {
		c.Put(fmt.Sprintf("key-%d", i), i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Get(fmt.Sprintf("key-%d", i%1024))
			i++
		}
	})
}
