package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/foliograph/foliograph/internal/cache"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/providers"
)

// fakeClock is a deterministic config.Clock test double.
type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// fakeCache is an in-memory cache.Cache double, avoiding the production
// two-tier cache's Postgres/ristretto dependencies in unit tests.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]catalog.CacheEntry
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]catalog.CacheEntry{}} }

// Get stamps CacheSource on a hit, mirroring TwoTierCache.Get, so callers
// can tell a cache hit from a freshly-populated entry by CacheSource alone.
func (c *fakeCache) Get(_ context.Context, key string) (catalog.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		e.CacheSource = "fake"
	}
	return e, ok
}

func (c *fakeCache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch cache.Fetcher) (catalog.CacheEntry, error) {
	if e, ok := c.Get(ctx, key); ok {
		return e, nil
	}
	payload, provider, quality, err := fetch(ctx)
	if err != nil {
		return catalog.CacheEntry{}, err
	}
	if err := c.Put(ctx, key, payload, ttl, provider, quality); err != nil {
		return catalog.CacheEntry{}, err
	}
	return catalog.CacheEntry{Payload: payload, Provider: provider, Quality: quality}, nil
}

func (c *fakeCache) Put(_ context.Context, key string, payload []byte, ttl time.Duration, provider catalog.ProviderID, quality int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = catalog.CacheEntry{Payload: payload, TTLSeconds: int(ttl.Seconds()), Provider: provider, Quality: quality}
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *fakeCache) DeleteByPrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
	return nil
}

// fakeSearcher implements VolumeCatalogClient/OpenBibClient/ISBNRegistryClient
// by returning a canned Result regardless of query, or routing per-call via
// byISBN/byFreeText funcs when set.
type fakeSearcher struct {
	byISBN     func(ctx context.Context, isbn string) providers.Result
	byFreeText func(ctx context.Context, q string) providers.Result
}

func (s fakeSearcher) SearchByISBN(ctx context.Context, isbn string) providers.Result {
	if s.byISBN != nil {
		return s.byISBN(ctx, isbn)
	}
	return providers.Result{Success: false}
}

func (s fakeSearcher) SearchByFreeText(ctx context.Context, q string) providers.Result {
	if s.byFreeText != nil {
		return s.byFreeText(ctx, q)
	}
	return providers.Result{Success: false}
}

func newTestOrchestrator(volumeCatalog, openBib fakeSearcher) (*Orchestrator, *fakeCache, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c := newFakeCache()
	o := New(config.Default(), c, volumeCatalog, openBib, nil, clock)
	return o, c, clock
}
