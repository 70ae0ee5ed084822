package normalizers

import (
	"strings"

	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/normalize"
	"github.com/foliograph/foliograph/internal/providers"
)

// OpenBib converts one providers.OpenBibWork into a Work, its Editions, and
// any Authors it names.
func OpenBib(raw providers.OpenBibWork) (catalog.Work, []catalog.Edition, []catalog.Author) {
	const provider = catalog.ProviderOpenBib

	var authors []catalog.Author
	for _, a := range raw.Authors {
		if a.Name == "" {
			continue
		}
		authors = append(authors, newAuthor(a.Name, a.BirthYear, a.Bio))
	}

	var subjects []string
	for _, s := range raw.Subjects {
		if s != "" {
			subjects = append(subjects, s)
		}
	}

	work := catalog.Work{
		Title:                strings.TrimSpace(raw.Title),
		Description:          sanitizeText(raw.Description),
		FirstPublicationYear: raw.FirstYear,
		SubjectTags:          subjects,
		PrimaryProvider:      provider,
		Contributors:         []catalog.ProviderID{provider},
		Synthetic:            false,
		ReviewStatus:         catalog.ReviewUnverified,
		ExternalIDs:          catalog.ExternalIDs{provider: raw.Key},
		Quality:              qualityScore(raw.Title != "", raw.Description != "", len(subjects) > 0, len(raw.Authors) > 0, raw.FirstYear != 0),
	}

	editions := make([]catalog.Edition, 0, len(raw.Editions))
	for _, e := range raw.Editions {
		editions = append(editions, openBibEdition(e))
	}

	return work, editions, authors
}

func openBibEdition(e providers.OpenBibEdition) catalog.Edition {
	const provider = catalog.ProviderOpenBib
	isbns := dedupeISBNs(e.ISBN13, e.ISBN10)

	return catalog.Edition{
		ISBNs:           isbns,
		ISBN:            primaryISBN(isbns),
		Publisher:       e.Publisher,
		PublicationDate: validDate(e.PublishDate),
		PageCount:       e.NumPages,
		Format:          parseFormat(e.PhysFormat),
		Language:        e.Language,
		CoverImageURL:   normalize.NormalizeImageURL(e.CoverURL),
		PrimaryProvider: provider,
		Contributors:    []catalog.ProviderID{provider},
		Quality:         qualityScore(len(isbns) > 0, e.Publisher != "", e.PublishDate != "", e.NumPages > 0, e.CoverURL != ""),
	}
}
