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

func TestEnrichEditionsRequiresWorkTitle(t *testing.T) {
	o, _, _ := newTestOrchestrator(fakeSearcher{}, fakeSearcher{})
	_, _, err := o.EnrichEditions(context.Background(), "", "", 0)
	assert.ErrorIs(t, err, apperr.New(apperr.InvalidQuery, ""))
}

func TestEnrichEditionsFiltersByFuzzyTitleAndSortsByFormat(t *testing.T) {
	vc := fakeSearcher{byFreeText: func(context.Context, string) providers.Result {
		return providers.Result{Success: true, RawPayload: providers.VolumeCatalogWork{
			ID:    "vc-1",
			Title: "Dune",
			Editions: []providers.VolumeCatalogEdition{
				{ISBN13: "9780441013593", Format: "paperback", ReleaseDate: "1990-01-01"},
				{ISBN13: "9780593099322", Format: "hardcover", ReleaseDate: "2019-01-01"},
			},
		}}
	}}
	ob := fakeSearcher{byFreeText: func(context.Context, string) providers.Result {
		return providers.Result{Success: true, RawPayload: providers.OpenBibWork{Title: "Somewhere Else"}}
	}}
	o, _, _ := newTestOrchestrator(vc, ob)

	resp, _, err := o.EnrichEditions(context.Background(), "Dune", "Frank Herbert", 10)
	require.NoError(t, err)
	require.Len(t, resp.Editions, 2)
	assert.Equal(t, catalog.FormatHardcover, resp.Editions[0].Format, "hardcover ranks before paperback")
	assert.Empty(t, resp.Works)
	assert.Empty(t, resp.Authors)
}

func TestEnrichEditionsClampsLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0, 20, 100))
	assert.Equal(t, 0, clampLimit(-5, 20, 100))
	assert.Equal(t, 100, clampLimit(500, 20, 100))
	assert.Equal(t, 7, clampLimit(7, 20, 100))
}

func TestFuzzyTitleMatchEitherDirection(t *testing.T) {
	assert.True(t, fuzzyTitleMatch("dune", "dune messiah"))
	assert.True(t, fuzzyTitleMatch("dune messiah", "dune"))
	assert.False(t, fuzzyTitleMatch("dune", "foundation"))
	assert.False(t, fuzzyTitleMatch("", "dune"))
}
