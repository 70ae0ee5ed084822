package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/providers"
)

func volumeCatalogResult(title string) providers.Result {
	return providers.Result{
		Success: true,
		RawPayload: providers.VolumeCatalogWork{
			ID:      "vc-1",
			Title:   title,
			Authors: []string{"Frank Herbert"},
			Editions: []providers.VolumeCatalogEdition{
				{ISBN13: "9780441013593", Publisher: "Ace Books", Format: "paperback"},
			},
		},
	}
}

func TestEnrichByISBNRejectsInvalidISBN(t *testing.T) {
	o, _, _ := newTestOrchestrator(fakeSearcher{}, fakeSearcher{})
	_, _, err := o.EnrichByISBN(context.Background(), "not-an-isbn")
	assert.ErrorIs(t, err, apperr.New(apperr.InvalidISBN, ""))
}

func TestEnrichByISBNMergesAndCaches(t *testing.T) {
	vc := fakeSearcher{byISBN: func(context.Context, string) providers.Result { return volumeCatalogResult("Dune") }}
	o, c, _ := newTestOrchestrator(vc, fakeSearcher{})

	resp, meta, err := o.EnrichByISBN(context.Background(), "9780441013593")
	require.NoError(t, err)
	require.Len(t, resp.Works, 1)
	assert.Equal(t, "Dune", resp.Works[0].Title)
	assert.Equal(t, catalog.ProviderVolumeCatalog, meta.Provider)
	assert.False(t, meta.Cached)

	_, ok := c.Get(context.Background(), "isbn:9780441013593")
	assert.True(t, ok, "merged result should be written through to cache")
}

func TestEnrichByISBNCacheHitSkipsProviders(t *testing.T) {
	called := false
	vc := fakeSearcher{byISBN: func(context.Context, string) providers.Result {
		called = true
		return volumeCatalogResult("Dune")
	}}
	o, _, _ := newTestOrchestrator(vc, fakeSearcher{})
	ctx := context.Background()

	_, _, err := o.EnrichByISBN(ctx, "9780441013593")
	require.NoError(t, err)
	require.True(t, called)

	called = false
	resp, meta, err := o.EnrichByISBN(ctx, "9780441013593")
	require.NoError(t, err)
	assert.False(t, called, "second lookup should be served from cache")
	assert.True(t, meta.Cached)
	require.Len(t, resp.Works, 1)
}

func TestEnrichByISBNAllProvidersFailReturnsEmptySuccess(t *testing.T) {
	o, _, _ := newTestOrchestrator(fakeSearcher{}, fakeSearcher{})
	resp, meta, err := o.EnrichByISBN(context.Background(), "9780441013593")
	require.NoError(t, err)
	assert.Equal(t, catalog.ProviderNone, meta.Provider)
	assert.Empty(t, resp.Works)
	assert.NotNil(t, resp.Editions)
	assert.NotNil(t, resp.Authors)
}

func TestEnrichByTitleRequiresNonEmptyTitle(t *testing.T) {
	o, _, _ := newTestOrchestrator(fakeSearcher{}, fakeSearcher{})
	_, _, err := o.EnrichByTitle(context.Background(), "")
	assert.ErrorIs(t, err, apperr.New(apperr.InvalidQuery, ""))
}

func TestEnrichAdvancedRequiresTitleOrAuthor(t *testing.T) {
	o, _, _ := newTestOrchestrator(fakeSearcher{}, fakeSearcher{})
	_, _, err := o.EnrichAdvanced(context.Background(), "", "", "2020", "Ace")
	assert.ErrorIs(t, err, apperr.New(apperr.InvalidQuery, ""))
}
