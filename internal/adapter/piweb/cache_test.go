package piweb

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nitrate-forecast/internal/observability"
)

type countingResolver struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *countingResolver) ResolveWebID(_ context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return "id:" + path, nil
}

func TestCachedResolver_CacheHit(t *testing.T) {
	inner := &countingResolver{}
	m := observability.NewMetricsForTesting()
	cached := NewCachedResolver(inner, 10, m)

	id1, err := cached.ResolveWebID(context.Background(), `\\pi\flow`)
	require.NoError(t, err)
	id2, err := cached.ResolveWebID(context.Background(), `\\pi\flow`)
	require.NoError(t, err)

	assert.Equal(t, `id:\\pi\flow`, id1)
	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HistorianCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HistorianCache.WithLabelValues("miss")))
}

func TestCachedResolver_ErrorsNotCached(t *testing.T) {
	inner := &countingResolver{err: errors.New("boom")}
	cached := NewCachedResolver(inner, 10, observability.NewMetricsForTesting())

	_, err := cached.ResolveWebID(context.Background(), "tag")
	require.Error(t, err)
	inner.err = nil
	id, err := cached.ResolveWebID(context.Background(), "tag")
	require.NoError(t, err)
	assert.Equal(t, "id:tag", id)
	assert.Equal(t, 2, inner.calls)
}

func TestLRUCache_BasicGetPut(t *testing.T) {
	c := newLRUCache[string](3)
	c.put("a", "1")
	c.put("b", "2")

	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache[int](2)
	c.put("a", 1)
	c.put("b", 2)
	_, _ = c.get("a") // b is now least recently used
	c.put("c", 3)

	_, ok := c.get("b")
	assert.False(t, ok, "b should be evicted")
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache[int](2)
	c.put("a", 1)
	c.put("a", 5)

	v, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, 5, v)
	assert.Equal(t, 1, c.len())
}
