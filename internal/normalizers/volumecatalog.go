package normalizers

import (
	"strings"

	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/normalize"
	"github.com/foliograph/foliograph/internal/providers"
)

// VolumeCatalog converts one providers.VolumeCatalogWork into a Work, its
// Editions, and any Authors it names.
func VolumeCatalog(raw providers.VolumeCatalogWork) (catalog.Work, []catalog.Edition, []catalog.Author) {
	const provider = catalog.ProviderVolumeCatalog

	var authors []catalog.Author
	for _, name := range raw.Authors {
		if name == "" {
			continue
		}
		authors = append(authors, newAuthor(name, 0, ""))
	}

	work := catalog.Work{
		Title:           strings.TrimSpace(raw.Title),
		Description:     sanitizeText(raw.Description),
		PrimaryProvider: provider,
		Contributors:    []catalog.ProviderID{provider},
		Synthetic:       false,
		ReviewStatus:    catalog.ReviewUnverified,
		ExternalIDs:     catalog.ExternalIDs{provider: raw.ID},
		Quality:         qualityScore(raw.Title != "", raw.Description != "", len(raw.Authors) > 0, len(raw.Editions) > 0),
	}

	editions := make([]catalog.Edition, 0, len(raw.Editions))
	for _, e := range raw.Editions {
		editions = append(editions, volumeCatalogEdition(e))
	}

	return work, editions, authors
}

func volumeCatalogEdition(e providers.VolumeCatalogEdition) catalog.Edition {
	const provider = catalog.ProviderVolumeCatalog
	isbns := dedupeISBNs(e.ISBN13, e.ISBN10)

	return catalog.Edition{
		ISBNs:           isbns,
		ISBN:            primaryISBN(isbns),
		Publisher:       e.Publisher,
		PublicationDate: validDate(e.ReleaseDate),
		PageCount:       e.PageCount,
		Format:          parseFormat(e.Format),
		Language:        e.Language,
		CoverImageURL:   normalize.NormalizeImageURL(e.ImageURL),
		PrimaryProvider: provider,
		Contributors:    []catalog.ProviderID{provider},
		Quality:         qualityScore(len(isbns) > 0, e.Publisher != "", e.ReleaseDate != "", e.PageCount > 0, e.ImageURL != ""),
	}
}

// validDate returns s unchanged if it looks like a parseable date/year,
// otherwise drops it (malformed dates are dropped, not coerced, per spec.md
// section 4.3).
func validDate(s string) string {
	if parseYear(s) == 0 {
		return ""
	}
	return s
}
