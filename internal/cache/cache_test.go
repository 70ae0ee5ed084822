package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/store"
)

func newTestCache(t *testing.T) *TwoTierCache {
	t.Helper()
	kv := store.NewMemStore(config.RealClock{})
	c, err := New(kv, 1<<20)
	require.NoError(t, err)
	return c
}

func TestCachePutGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "isbn:9780439708180", []byte(`{"title":"Harry Potter"}`), 365*24*time.Hour, catalog.ProviderVolumeCatalog, 90))

	entry, ok := c.Get(ctx, "isbn:9780439708180")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"title":"Harry Potter"}`), entry.Payload)
	assert.Equal(t, catalog.ProviderVolumeCatalog, entry.Provider)
	assert.Contains(t, []string{"edge", "kv"}, entry.CacheSource)
}

func TestCacheGetOrFetchSingleFlight(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls int64
	fetch := func(ctx context.Context) ([]byte, catalog.ProviderID, int, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte("payload"), catalog.ProviderOpenBib, 80, nil
	}

	const n = 10
	results := make(chan catalog.CacheEntry, n)
	for i := 0; i < n; i++ {
		go func() {
			entry, err := c.GetOrFetch(ctx, "title:dune", time.Hour, fetch)
			require.NoError(t, err)
			results <- entry
		}()
	}
	for i := 0; i < n; i++ {
		<-results
	}

	assert.EqualValues(t, 1, atomic.LoadInt64(&calls), "fetcher must be invoked at most once per key")
}

func TestCacheCompressesLargePayloads(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	big := make([]byte, compressThreshold*2)
	for i := range big {
		big[i] = byte('a' + i%26)
	}

	require.NoError(t, c.Put(ctx, "enrich:big", big, time.Hour, catalog.ProviderVolumeCatalog, 50))

	entry, ok := c.Get(ctx, "enrich:big")
	require.True(t, ok)
	assert.Equal(t, big, entry.Payload)
}

func TestCacheMissReturnsFalse(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get(context.Background(), "isbn:nonexistent")
	assert.False(t, ok)
}
