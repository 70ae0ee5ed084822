package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliograph/foliograph/internal/cache"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/enrich"
	"github.com/foliograph/foliograph/internal/progress"
	"github.com/foliograph/foliograph/internal/providers"
	"github.com/foliograph/foliograph/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// fakeCache is an in-memory cache.Cache double so pipeline tests don't need
// the production two-tier cache's Postgres/ristretto wiring.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]catalog.CacheEntry
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]catalog.CacheEntry{}} }

func (c *fakeCache) Get(_ context.Context, key string) (catalog.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
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
	_ = c.Put(ctx, key, payload, ttl, provider, quality)
	e, _ := c.Get(ctx, key)
	return e, nil
}

func (c *fakeCache) Put(_ context.Context, key string, payload []byte, _ time.Duration, provider catalog.ProviderID, quality int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = catalog.CacheEntry{Payload: payload, Provider: provider, Quality: quality}
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

// fakeProvider implements enrich.VolumeCatalogClient/OpenBibClient with a
// canned Result.
type fakeProvider struct{ result providers.Result }

func (p fakeProvider) SearchByISBN(context.Context, string) providers.Result    { return p.result }
func (p fakeProvider) SearchByFreeText(context.Context, string) providers.Result { return p.result }

func newTestOrchestrator(cfg config.CoreConfig, clock config.Clock) *enrich.Orchestrator {
	empty := providers.Result{Success: false}
	return enrich.New(cfg, newFakeCache(), fakeProvider{empty}, fakeProvider{empty}, nil, clock)
}

func newTestLauncher() (*Launcher, *progress.Registry, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := config.Default()
	cfg.BatchConcurrency = 3
	reg := progress.NewRegistry(cfg, store.NewMemStore(clock), clock)
	return NewLauncher(reg, cfg, clock), reg, clock
}

func waitTerminal(t *testing.T, reg *progress.Registry, jobID string) catalog.JobState {
	t.Helper()
	var js catalog.JobState
	require.Eventually(t, func() bool {
		a, ok := reg.GetOrLoad(context.Background(), jobID)
		if !ok {
			return false
		}
		js = a.GetJobState()
		return js.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return js
}

func TestStartSingleEnrichmentCompletesWithEmptyProviderResult(t *testing.T) {
	l, reg, clock := newTestLauncher()
	orch := newTestOrchestrator(config.Default(), clock)

	token, err := l.StartSingleEnrichment(context.Background(), orch, "job-single-1", enrich.BookQuery{Title: "Dune", Author: "Herbert"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	js := waitTerminal(t, reg, "job-single-1")
	assert.Equal(t, catalog.StatusCompleted, js.Status)
}

func TestStartBatchEnrichmentRejectsEmptyBatch(t *testing.T) {
	l, reg, clock := newTestLauncher()
	orch := newTestOrchestrator(config.Default(), clock)

	token, err := l.StartBatchEnrichment(context.Background(), orch, "job-batch-empty", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	js := waitTerminal(t, reg, "job-batch-empty")
	assert.Equal(t, catalog.StatusFailed, js.Status)
}

func TestStartBatchEnrichmentProcessesAllBooks(t *testing.T) {
	l, reg, clock := newTestLauncher()
	orch := newTestOrchestrator(config.Default(), clock)

	books := []enrich.BookQuery{
		{Title: "Dune", Author: "Herbert"},
		{Title: "Foundation", Author: "Asimov"},
		{ISBN: "9780441013593"},
	}
	token, err := l.StartBatchEnrichment(context.Background(), orch, "job-batch-1", books)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	js := waitTerminal(t, reg, "job-batch-1")
	assert.Equal(t, catalog.StatusCompleted, js.Status)
	assert.Equal(t, len(books), js.TotalCount)
}

func newMultimodalServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestStartCSVImportFiltersIncompleteRowsAndCompletes(t *testing.T) {
	l, reg, clock := newTestLauncher()
	orch := newTestOrchestrator(config.Default(), clock)
	_ = orch

	srv := newMultimodalServer(t, `{"books":[{"title":"Dune","author":"Herbert"},{"title":"Missing Author"}]}`)
	defer srv.Close()
	mm := providers.NewMultimodalClient(srv.Client(), srv.URL, providers.StaticSecret("key"), nil)
	c := newFakeCache()

	token, err := l.StartCSVImport(context.Background(), mm, c, "job-csv-1", "title,author\nDune,Herbert\nMissing Author,\n")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	js := waitTerminal(t, reg, "job-csv-1")
	assert.Equal(t, catalog.StatusCompleted, js.Status)
}

func TestStartCSVImportRejectsNonCSVInput(t *testing.T) {
	l, _, _ := newTestLauncher()
	mm := providers.NewMultimodalClient(http.DefaultClient, "http://example.invalid", providers.StaticSecret("key"), nil)
	c := newFakeCache()

	_, err := l.StartCSVImport(context.Background(), mm, c, "job-csv-bad", "not csv at all")
	assert.Error(t, err)
}

func TestStartCSVImportEmptyAfterFilterFails(t *testing.T) {
	l, reg, _ := newTestLauncher()
	srv := newMultimodalServer(t, `{"books":[{"title":"","author":""}]}`)
	defer srv.Close()
	mm := providers.NewMultimodalClient(srv.Client(), srv.URL, providers.StaticSecret("key"), nil)
	c := newFakeCache()

	token, err := l.StartCSVImport(context.Background(), mm, c, "job-csv-2", "title,author\n,\n")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	js := waitTerminal(t, reg, "job-csv-2")
	assert.Equal(t, catalog.StatusFailed, js.Status)
	assert.Contains(t, js.Error, "No valid books found")
}

func TestStartBookshelfScanAccumulatesPhotos(t *testing.T) {
	l, reg, clock := newTestLauncher()
	orch := newTestOrchestrator(config.Default(), clock)

	srv := newMultimodalServer(t, `{"books":[{"title":"Dune","author":"Herbert"}]}`)
	defer srv.Close()
	mm := providers.NewMultimodalClient(srv.Client(), srv.URL, providers.StaticSecret("key"), nil)

	token, err := l.StartBookshelfScan(context.Background(), mm, orch, "job-scan-1", []string{"data:image/jpeg;base64,AAA", "data:image/jpeg;base64,BBB"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	js := waitTerminal(t, reg, "job-scan-1")
	assert.Equal(t, catalog.StatusCompleted, js.Status)
}

func TestStartBookshelfScanRejectsEmptyPhotos(t *testing.T) {
	l, _, clock := newTestLauncher()
	orch := newTestOrchestrator(config.Default(), clock)
	mm := providers.NewMultimodalClient(http.DefaultClient, "http://example.invalid", providers.StaticSecret("key"), nil)

	_, err := l.StartBookshelfScan(context.Background(), mm, orch, "job-scan-empty", nil)
	assert.Error(t, err)
}
