package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-query-pipeline/internal/model"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func result(v float64) *model.MetricsResult {
	return &model.MetricsResult{
		Metrics:  map[string]float64{"total_vendas": v},
		Metadata: map[string]interface{}{},
		RowCount: 1,
	}
}

func TestQueryCache_BasicOperations(t *testing.T) {
	c := New(model.CacheConfig{MaxSize: 10, TTL: time.Minute})

	t.Run("set and get", func(t *testing.T) {
		c.Set("SALES|une=1", result(42))

		got, ok := c.Get("SALES|une=1")
		require.True(t, ok)
		assert.True(t, got.CacheHit)
		assert.Equal(t, 42.0, got.Metrics["total_vendas"])
	})

	t.Run("miss for other signature", func(t *testing.T) {
		_, ok := c.Get("SALES|une=2")
		assert.False(t, ok)
	})

	t.Run("callers cannot mutate cached entry", func(t *testing.T) {
		got, ok := c.Get("SALES|une=1")
		require.True(t, ok)
		got.Metrics["total_vendas"] = -1

		again, ok := c.Get("SALES|une=1")
		require.True(t, ok)
		assert.Equal(t, 42.0, again.Metrics["total_vendas"])
	})

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}

func TestQueryCache_TTLExpiration(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(model.CacheConfig{MaxSize: 10, TTL: 300 * time.Second}, WithClock(clock.Now))

	c.Set("STOCK|une=7", result(1))

	clock.Advance(299 * time.Second)
	_, ok := c.Get("STOCK|une=7")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = c.Get("STOCK|une=7")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry is removed on access")
	assert.Equal(t, int64(1), c.Stats().Expired)
}

func TestQueryCache_SetRefreshesTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := New(model.CacheConfig{MaxSize: 10, TTL: 10 * time.Second}, WithClock(clock.Now))

	c.Set("k", result(1))
	clock.Advance(8 * time.Second)
	c.Set("k", result(2))
	clock.Advance(8 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Metrics["total_vendas"])
}

func TestQueryCache_LRUEviction(t *testing.T) {
	c := New(model.CacheConfig{MaxSize: 3, TTL: time.Hour})

	c.Set("q1", result(1))
	c.Set("q2", result(2))
	c.Set("q3", result(3))

	// touch q1 so q2 becomes least recently used
	_, ok := c.Get("q1")
	require.True(t, ok)

	c.Set("q4", result(4))

	assert.Equal(t, 3, c.Len())
	_, ok = c.Get("q2")
	assert.False(t, ok)
	for _, k := range []string{"q1", "q3", "q4"} {
		_, ok := c.Get(k)
		assert.True(t, ok, k)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestQueryCache_InvalidatePattern(t *testing.T) {
	c := New(model.CacheConfig{MaxSize: 10, TTL: time.Hour})
	c.Set("SALES|une=1", result(1))
	c.Set("SALES|une=2", result(2))
	c.Set("STOCK|une=1", result(3))

	removed := c.InvalidatePattern("une=1")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("SALES|une=2")
	assert.True(t, ok)

	assert.Equal(t, 0, c.InvalidatePattern("nothing-matches"))
	assert.Equal(t, 1, c.InvalidatePattern(""))
	assert.Equal(t, 0, c.Len())
}

func TestQueryCache_Clear(t *testing.T) {
	c := New(model.CacheConfig{MaxSize: 10, TTL: time.Hour})
	c.Set("a", result(1))
	c.Set("b", result(2))
	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestQueryCache_NilResultIgnored(t *testing.T) {
	c := New(model.CacheConfig{})
	c.Set("x", nil)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, defaultMaxSize, c.Stats().MaxSize)
}

func TestQueryCache_Concurrent(t *testing.T) {
	c := New(model.CacheConfig{MaxSize: 50, TTL: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sig := fmt.Sprintf("SALES|une=%d", (i+j)%80)
				c.Set(sig, result(float64(j)))
				c.Get(sig)
				if j%25 == 0 {
					c.InvalidatePattern("une=3")
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("a|b"), Key("a|b"))
	assert.NotEqual(t, Key("a|b"), Key("a|c"))
	assert.Len(t, Key("x"), 64)
}
