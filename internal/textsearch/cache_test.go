// ABOUTME: Tests for the search result cache eviction and expiry rules.
// ABOUTME: Drives the injected clock directly to exercise TTL behavior.

package textsearch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func match(start, end int) Match {
	return Match{Span: Span{Start: start, End: end}}
}

func TestCache_PutAndGet(t *testing.T) {
	c := NewCache(10, time.Minute)
	defer c.Close()

	key := Key{Library: "main", BookID: 7, Query: "whale"}
	c.Put(key, []Match{match(1, 5)})

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Start)
	assert.Equal(t, 5, got[0].End)

	_, ok = c.Get(Key{Library: "main", BookID: 7, Query: "shark"})
	assert.False(t, ok)
}

func TestCache_ReturnsCopy(t *testing.T) {
	c := NewCache(10, time.Minute)
	defer c.Close()

	key := Key{Library: "main", BookID: 1, Query: "q"}
	c.Put(key, []Match{match(0, 3)})

	got, _ := c.Get(key)
	got[0].Start = 99

	again, _ := c.Get(key)
	assert.Equal(t, 0, again[0].Start)
}

func TestCache_CapacityEvictsLeastRecentlyTouched(t *testing.T) {
	c := NewCache(3, time.Hour)
	defer c.Close()

	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	for i := 1; i <= 3; i++ {
		c.Put(Key{Library: "main", BookID: i, Query: "q"}, []Match{match(i, i+1)})
		clock = clock.Add(time.Second)
	}

	// Touch entry 1 so entry 2 becomes the oldest.
	_, ok := c.Get(Key{Library: "main", BookID: 1, Query: "q"})
	require.True(t, ok)
	clock = clock.Add(time.Second)

	c.Put(Key{Library: "main", BookID: 4, Query: "q"}, []Match{match(4, 5)})

	_, ok = c.Get(Key{Library: "main", BookID: 2, Query: "q"})
	assert.False(t, ok, "least recently touched entry should be gone")
	for _, id := range []int{1, 3, 4} {
		_, ok = c.Get(Key{Library: "main", BookID: id, Query: "q"})
		assert.True(t, ok, "entry %d should survive", id)
	}
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c := NewCache(2, time.Hour)
	defer c.Close()

	a := Key{Library: "main", BookID: 1, Query: "q"}
	b := Key{Library: "main", BookID: 2, Query: "q"}
	c.Put(a, []Match{match(0, 1)})
	c.Put(b, []Match{match(0, 1)})

	c.Put(a, []Match{match(5, 6)})

	assert.Equal(t, 2, c.Len())
	got, ok := c.Get(a)
	require.True(t, ok)
	assert.Equal(t, 5, got[0].Start)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := NewCache(10, time.Minute)
	defer c.Close()

	clock := time.Unix(1000, 0)
	c.now = func() time.Time { return clock }

	key := Key{Library: "main", BookID: 1, Query: "q"}
	c.Put(key, []Match{match(0, 1)})

	clock = clock.Add(30 * time.Second)
	_, ok := c.Get(key)
	require.True(t, ok)

	// The hit above refreshed the timestamp.
	clock = clock.Add(45 * time.Second)
	_, ok = c.Get(key)
	require.True(t, ok)

	clock = clock.Add(2 * time.Minute)
	_, ok = c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_Defaults(t *testing.T) {
	c := NewCache(0, 0)
	defer c.Close()

	assert.Equal(t, DefaultMaxEntries, c.maxEntries)
	assert.Equal(t, DefaultTTL, c.ttl)
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := NewCache(10, time.Minute)
	c.Close()
	c.Close()
}

func TestCache_ManyQueriesStayBounded(t *testing.T) {
	c := NewCache(5, time.Hour)
	defer c.Close()

	for i := 0; i < 50; i++ {
		c.Put(Key{Library: "main", BookID: i, Query: fmt.Sprintf("q%d", i)}, nil)
	}
	assert.Equal(t, 5, c.Len())
}
