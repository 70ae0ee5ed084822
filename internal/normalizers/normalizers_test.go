package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/providers"
)

func TestVolumeCatalogNormalizer(t *testing.T) {
	raw := providers.VolumeCatalogWork{
		ID:          "vc-1",
		Title:       "Dune",
		Description: "<p>A <b>desert</b> planet &amp; politics</p>",
		Authors:     []string{"Frank Herbert"},
		Editions: []providers.VolumeCatalogEdition{
			{ISBN13: "9780441013593", Publisher: "Ace", ReleaseDate: "1990-01-01", Format: "Paperback"},
		},
	}

	work, editions, authors := VolumeCatalog(raw)

	assert.Equal(t, "Dune", work.Title)
	assert.NotContains(t, work.Description, "<")
	assert.Equal(t, catalog.ProviderVolumeCatalog, work.PrimaryProvider)
	assert.Contains(t, work.Contributors, catalog.ProviderVolumeCatalog)

	require.Len(t, editions, 1)
	assert.Equal(t, "9780441013593", editions[0].ISBN)
	assert.Equal(t, catalog.FormatPaperback, editions[0].Format)

	require.Len(t, authors, 1)
	assert.Equal(t, "frank herbert", authors[0].Name)
}

func TestVolumeCatalogNormalizerEmptyAuthorsProducesNoAuthorRecords(t *testing.T) {
	raw := providers.VolumeCatalogWork{Title: "Untitled Work"}
	_, _, authors := VolumeCatalog(raw)
	assert.Empty(t, authors)
}

func TestOpenBibNormalizerMalformedDateDropped(t *testing.T) {
	raw := providers.OpenBibWork{
		Title: "Neuromancer",
		Editions: []providers.OpenBibEdition{
			{ISBN13: "9780441569595", PublishDate: "not-a-date"},
		},
	}
	_, editions, _ := OpenBib(raw)
	require.Len(t, editions, 1)
	assert.Empty(t, editions[0].PublicationDate)
}

func TestISBNRegistryNormalizer(t *testing.T) {
	raw := providers.ISBNRegistryRecord{ISBN: "978-0-441-01359-3", Publisher: "Ace", ImageURL: "http://img.example.com/a.jpg?x=1"}
	edition := ISBNRegistry(raw)

	assert.Equal(t, "9780441013593", edition.ISBN)
	assert.Equal(t, "https://img.example.com/a.jpg", edition.CoverImageURL)
	assert.Equal(t, catalog.FormatOther, edition.Format)
}
