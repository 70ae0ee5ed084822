package enrich

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/normalize"
	"github.com/foliograph/foliograph/internal/providers"
)

// EnrichEditions implements spec.md section 4.5: editions-only lookup with a
// fuzzy title match against each provider's candidates, returning at most
// limit editions (works and authors are always empty).
func (o *Orchestrator) EnrichEditions(ctx context.Context, workTitle, author string, limit int) (Response, Metadata, error) {
	if workTitle == "" {
		return Response{}, Metadata{}, apperr.New(apperr.InvalidQuery, "workTitle is required")
	}
	limit = clampLimit(limit, o.cfg.EditionMatchDefaultLimit, o.cfg.EditionMatchMaxLimit)

	q := workTitle
	if author != "" {
		q = q + " " + author
	}
	results := o.fanOut(ctx, func(ctx context.Context) providers.Result { return o.volumeCatalog.SearchByFreeText(ctx, q) },
		func(ctx context.Context) providers.Result { return o.openBib.SearchByFreeText(ctx, q) })

	normalizedQuery := normalize.NormalizeTitle(workTitle)
	var editions []catalog.Edition
	for _, pw := range results {
		if !fuzzyTitleMatch(normalizedQuery, normalize.NormalizeTitle(pw.work.Title)) {
			continue
		}
		editions = append(editions, pw.editions...)
	}

	sortEditions(editions)
	if len(editions) > limit {
		editions = editions[:limit]
	}
	if editions == nil {
		editions = []catalog.Edition{}
	}

	return Response{Works: []catalog.Work{}, Editions: editions, Authors: []catalog.Author{}}, Metadata{Provider: primaryOfEditions(editions)}, nil
}

func primaryOfEditions(editions []catalog.Edition) catalog.ProviderID {
	if len(editions) == 0 {
		return catalog.ProviderNone
	}
	return editions[0].PrimaryProvider
}

// clampLimit applies spec.md section 4.5's "default 20, clamp to [0,100]".
func clampLimit(limit, def, max int) int {
	if limit == 0 {
		return def
	}
	if limit < 0 {
		return 0
	}
	if limit > max {
		return max
	}
	return limit
}

var titleJunk = regexp.MustCompile(`[^\p{L}\p{N} ]`)

// fuzzyTitleMatch implements the "keep it simple and testable" substring
// match from spec.md section 4.5/9: accept if either normalized string
// contains the other.
func fuzzyTitleMatch(query, candidate string) bool {
	if query == "" || candidate == "" {
		return false
	}
	return strings.Contains(candidate, query) || strings.Contains(query, candidate)
}

var leadingYear = regexp.MustCompile(`^\d{4}`)

func editionYear(e catalog.Edition) int {
	m := leadingYear.FindString(e.PublicationDate)
	if m == "" {
		return 0
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return y
}

// sortEditions orders editions per spec.md section 4.5: format (Hardcover <
// Paperback < E-book < Audiobook < Other), then publicationDate descending,
// then len(isbns) descending.
func sortEditions(editions []catalog.Edition) {
	sort.SliceStable(editions, func(i, j int) bool {
		a, b := editions[i], editions[j]
		if a.Format.Rank() != b.Format.Rank() {
			return a.Format.Rank() < b.Format.Rank()
		}
		ay, by := editionYear(a), editionYear(b)
		if ay != by {
			return ay > by
		}
		return len(a.ISBNs) > len(b.ISBNs)
	})
}
