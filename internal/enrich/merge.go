package enrich

import (
	"encoding/json"
	"errors"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/normalize"
)

// errAllProvidersFailed signals mergeResults found nothing worth keeping.
// It is never wrapped into a user-visible error: callers translate it back
// into a successful, empty Response and it also tells cache.GetOrFetch not
// to write through (spec.md section 4.4, "never cache errors or empty
// provider failures").
var errAllProvidersFailed = errors.New("enrich: all providers failed")

// responseDoc is the JSON shape a merged Response is cached as.
type responseDoc struct {
	Works    []catalog.Work    `json:"works"`
	Editions []catalog.Edition `json:"editions"`
	Authors  []catalog.Author  `json:"authors"`
	Provider catalog.ProviderID `json:"primaryProvider"`
}

func encodeResponse(resp Response, provider catalog.ProviderID) ([]byte, error) {
	return json.Marshal(responseDoc{Works: resp.Works, Editions: resp.Editions, Authors: resp.Authors, Provider: provider})
}

func decodeResponse(raw []byte) (Response, error) {
	var doc responseDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Response{}, apperr.Wrap(apperr.InternalError, err)
	}
	return Response{Works: doc.Works, Editions: doc.Editions, Authors: doc.Authors}, nil
}

// mergeResults applies the merge policy to results, optionally folding in a
// cover-image-only edition from the ISBN registry. It is a pure function of
// its inputs so it can be wrapped into a cache.Fetcher closure: it returns
// errAllProvidersFailed instead of caching a hollow result (spec.md section
// 4.5/4.7's best-effort failure semantics belong to the caller, not here).
func mergeResults(results []providerWork, coverCandidate *catalog.Edition) (Response, catalog.ProviderID, int, error) {
	if len(results) == 0 {
		return Response{}, catalog.ProviderNone, 0, errAllProvidersFailed
	}

	work, contributors, quality := mergeWork(results)
	editions := mergeEditions(results, coverCandidate)
	authors := dedupeAuthors(collectAuthors(results))

	work.Contributors = contributors
	work.PrimaryProvider = primaryOf(contributors)
	work.Quality = quality

	resp := Response{Works: []catalog.Work{work}, Editions: editions, Authors: authors}
	return resp, work.PrimaryProvider, quality, nil
}

// primaryOf returns the highest-ranked (lowest Rank) provider in ids.
func primaryOf(ids []catalog.ProviderID) catalog.ProviderID {
	if len(ids) == 0 {
		return catalog.ProviderNone
	}
	best := ids[0]
	for _, id := range ids[1:] {
		if id.Rank() < best.Rank() {
			best = id
		}
	}
	return best
}

// mergeWork applies the attribute-by-attribute preferred-provider-order
// policy from spec.md section 4.5 to every providerWork's Work.
func mergeWork(results []providerWork) (catalog.Work, []catalog.ProviderID, int) {
	sorted := rankedCopy(results)

	merged := catalog.Work{ReviewStatus: catalog.ReviewUnverified, ExternalIDs: catalog.ExternalIDs{}}
	var contributors []catalog.ProviderID
	maxQuality := 0

	for _, pw := range sorted {
		w := pw.work
		if w.Quality > maxQuality {
			maxQuality = w.Quality
		}
		contributed := false

		if merged.Title == "" && w.Title != "" {
			merged.Title = w.Title
			contributed = true
		}
		if merged.Subtitle == "" && w.Subtitle != "" {
			merged.Subtitle = w.Subtitle
			contributed = true
		}
		if merged.Description == "" && w.Description != "" {
			merged.Description = w.Description
			contributed = true
		}
		if merged.FirstPublicationYear == 0 && w.FirstPublicationYear != 0 {
			merged.FirstPublicationYear = w.FirstPublicationYear
			contributed = true
		}
		if len(merged.SubjectTags) == 0 && len(w.SubjectTags) > 0 {
			merged.SubjectTags = w.SubjectTags
			contributed = true
		}
		if merged.CoverImageURL == "" && w.CoverImageURL != "" {
			merged.CoverImageURL = w.CoverImageURL
			contributed = true
		}
		for ns, id := range w.ExternalIDs {
			if _, ok := merged.ExternalIDs[ns]; !ok {
				merged.ExternalIDs[ns] = id
			}
		}

		if contributed {
			contributors = append(contributors, pw.provider)
		}
	}

	if merged.Title == "" {
		merged.Synthetic = true
	}

	return merged, contributors, maxQuality
}

// mergeEditions groups editions across providers by their primary ISBN and
// merges each group attribute-by-attribute, folding in coverCandidate
// (ISBN-Registry) when it is the only source of a cover image for that
// edition.
func mergeEditions(results []providerWork, coverCandidate *catalog.Edition) []catalog.Edition {
	type group struct {
		editions []editionContribution
	}
	groups := map[string]*group{}
	var order []string

	for _, pw := range rankedCopy(results) {
		for _, e := range pw.editions {
			k := editionGroupKey(e)
			g, ok := groups[k]
			if !ok {
				g = &group{}
				groups[k] = g
				order = append(order, k)
			}
			g.editions = append(g.editions, editionContribution{provider: pw.provider, edition: e})
		}
	}

	var out []catalog.Edition
	for _, k := range order {
		out = append(out, mergeEditionGroup(groups[k].editions, coverCandidate))
	}
	if coverCandidate != nil && len(out) == 0 {
		out = append(out, *coverCandidate)
	}
	return out
}

type editionContribution struct {
	provider catalog.ProviderID
	edition  catalog.Edition
}

func editionGroupKey(e catalog.Edition) string {
	if e.ISBN != "" {
		return e.ISBN
	}
	if len(e.ISBNs) > 0 {
		return e.ISBNs[0]
	}
	return "title:" + normalize.NormalizeTitle(e.Title)
}

func mergeEditionGroup(contribs []editionContribution, coverCandidate *catalog.Edition) catalog.Edition {
	merged := catalog.Edition{Format: catalog.FormatOther}
	var contributors []catalog.ProviderID
	maxQuality := 0
	isbnSet := map[string]bool{}

	for _, c := range contribs {
		e := c.edition
		if e.Quality > maxQuality {
			maxQuality = e.Quality
		}
		for _, isbn := range e.ISBNs {
			if !isbnSet[isbn] {
				isbnSet[isbn] = true
				merged.ISBNs = append(merged.ISBNs, isbn)
			}
		}
		if merged.ISBN == "" {
			merged.ISBN = e.ISBN
		}
		if merged.Title == "" {
			merged.Title = e.Title
		}
		if merged.Publisher == "" {
			merged.Publisher = e.Publisher
		}
		if merged.PublicationDate == "" {
			merged.PublicationDate = e.PublicationDate
		}
		if merged.PageCount == 0 {
			merged.PageCount = e.PageCount
		}
		if merged.Language == "" {
			merged.Language = e.Language
		}
		if merged.Format == catalog.FormatOther && e.Format != "" && e.Format != catalog.FormatOther {
			merged.Format = e.Format
		}
		if merged.CoverImageURL == "" && e.CoverImageURL != "" {
			merged.CoverImageURL = e.CoverImageURL
			contributors = append(contributors, c.provider)
		} else if e.CoverImageURL != "" {
			contributors = append(contributors, c.provider)
		} else {
			contributors = append(contributors, c.provider)
		}
	}

	// ISBN-Registry beats others if it is the only one with a cover.
	if merged.CoverImageURL == "" && coverCandidate != nil && coverCandidate.CoverImageURL != "" {
		if matchesGroup(merged, *coverCandidate) {
			merged.CoverImageURL = coverCandidate.CoverImageURL
			contributors = append(contributors, catalog.ProviderISBNRegistry)
		}
	}

	if merged.Format == "" {
		merged.Format = catalog.FormatOther
	}
	merged.Contributors = dedupeProviderIDs(contributors)
	merged.PrimaryProvider = primaryOf(merged.Contributors)
	merged.Quality = maxQuality
	return merged
}

func matchesGroup(merged, candidate catalog.Edition) bool {
	if candidate.ISBN == "" {
		return merged.ISBN == ""
	}
	if merged.ISBN == candidate.ISBN {
		return true
	}
	for _, isbn := range merged.ISBNs {
		if isbn == candidate.ISBN {
			return true
		}
	}
	return len(merged.ISBNs) == 0 && merged.ISBN == ""
}

func dedupeProviderIDs(ids []catalog.ProviderID) []catalog.ProviderID {
	seen := map[catalog.ProviderID]bool{}
	var out []catalog.ProviderID
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// rankedCopy returns results sorted by provider rank (Volume-Catalog before
// Open-Bib before ISBN-Registry), stable for deterministic tie-breaking.
func rankedCopy(results []providerWork) []providerWork {
	out := make([]providerWork, len(results))
	copy(out, results)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].provider.Rank() < out[j-1].provider.Rank(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func collectAuthors(results []providerWork) []catalog.Author {
	var out []catalog.Author
	for _, pw := range results {
		out = append(out, pw.authors...)
	}
	return out
}

// dedupeAuthors collapses authors sharing a normalized-name key, preserving
// the highest-quality instance (spec.md section 3/4.5).
func dedupeAuthors(authors []catalog.Author) []catalog.Author {
	best := map[string]catalog.Author{}
	var order []string
	for _, a := range authors {
		key := normalize.NormalizeAuthorKey(a.Name)
		if existing, ok := best[key]; !ok {
			best[key] = a
			order = append(order, key)
		} else if a.Quality > existing.Quality {
			best[key] = a
		}
	}
	out := make([]catalog.Author, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}
