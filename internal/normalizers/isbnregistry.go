package normalizers

import (
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/normalize"
	"github.com/foliograph/foliograph/internal/providers"
)

// ISBNRegistry converts one providers.ISBNRegistryRecord into a partial
// Edition. The registry is invoked only for cover-image supplementation per
// spec.md section 4.5, so the returned Edition typically contributes only
// ISBN/publisher/cover-image.
func ISBNRegistry(raw providers.ISBNRegistryRecord) catalog.Edition {
	const provider = catalog.ProviderISBNRegistry
	isbns := dedupeISBNs(raw.ISBN)

	return catalog.Edition{
		ISBNs:           isbns,
		ISBN:            primaryISBN(isbns),
		Title:           raw.Title,
		Publisher:       raw.Publisher,
		PublicationDate: validDate(raw.PubDate),
		Format:          catalog.FormatOther,
		CoverImageURL:   normalize.NormalizeImageURL(raw.ImageURL),
		PrimaryProvider: provider,
		Contributors:    []catalog.ProviderID{provider},
		Quality:         qualityScore(len(isbns) > 0, raw.Publisher != "", raw.ImageURL != ""),
	}
}
