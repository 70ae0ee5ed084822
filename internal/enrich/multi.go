package enrich

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/foliograph/foliograph/internal/normalize"
)

// BookQuery is one entry of a batch-enrichment request: either an ISBN or a
// title/author pair, per spec.md section 4.8 ("books[] each {title, author,
// isbn?}").
type BookQuery struct {
	Title  string
	Author string
	ISBN   string
}

// BookResult pairs a BookQuery with its enrichment outcome.
type BookResult struct {
	Query    BookQuery
	Response Response
	Metadata Metadata
	Err      error
}

// EnrichBook resolves one BookQuery through the ISBN path when an ISBN is
// present, falling back to the advanced title/author path otherwise.
func (o *Orchestrator) EnrichBook(ctx context.Context, q BookQuery) (Response, Metadata, error) {
	if q.ISBN != "" {
		return o.EnrichByISBN(ctx, q.ISBN)
	}
	return o.EnrichAdvanced(ctx, q.Title, q.Author, "", "")
}

// EnrichMultiple implements spec.md section 4.5's best-effort parallel
// enrichment: bounded concurrency (CoreConfig.BatchConcurrency) and
// per-batch dedup by normalized ISBN, so two requesters asking for the same
// ISBN share a single provider fetch (spec.md section 4.8). onProgress, if
// given, is called once per book as its result lands — a shared-ISBN group
// reports once per member, so a batch driver's "N of total" counter still
// advances one book at a time even though the group shares one fetch.
func (o *Orchestrator) EnrichMultiple(ctx context.Context, books []BookQuery, onProgress ...func(completed, total int)) []BookResult {
	results := make([]BookResult, len(books))
	total := len(books)

	var report func(n int)
	if len(onProgress) > 0 && onProgress[0] != nil {
		cb := onProgress[0]
		var completed atomic.Int64
		report = func(n int) {
			for i := 0; i < n; i++ {
				cb(int(completed.Add(1)), total)
			}
		}
	} else {
		report = func(int) {}
	}

	type dedupKey = string
	isbnGroups := map[dedupKey][]int{}
	var standalone []int
	for i, b := range books {
		if b.ISBN != "" {
			if n := normalize.NormalizeISBN(b.ISBN); n != "" {
				isbnGroups[n] = append(isbnGroups[n], i)
				continue
			}
		}
		standalone = append(standalone, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, o.cfg.BatchConcurrency))

	for isbn, indices := range isbnGroups {
		isbn, indices := isbn, indices
		g.Go(func() error {
			resp, meta, err := o.EnrichByISBN(gctx, isbn)
			for _, idx := range indices {
				results[idx] = BookResult{Query: books[idx], Response: resp, Metadata: meta, Err: err}
			}
			report(len(indices))
			return nil
		})
	}
	for _, idx := range standalone {
		idx := idx
		g.Go(func() error {
			resp, meta, err := o.EnrichBook(gctx, books[idx])
			results[idx] = BookResult{Query: books[idx], Response: resp, Metadata: meta, Err: err}
			report(1)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
