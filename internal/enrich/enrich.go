// Package enrich implements the enrichment orchestrator (C5): provider
// fan-out with deterministic fallback, quality-scored merging into
// canonical Work/Edition/Author records, and write-through caching.
package enrich

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/cache"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/normalize"
	"github.com/foliograph/foliograph/internal/normalizers"
	"github.com/foliograph/foliograph/internal/providers"
)

// Response is the merged result every public operation returns.
type Response struct {
	Works    []catalog.Work
	Editions []catalog.Edition
	Authors  []catalog.Author
}

// Metadata describes how a Response was produced, feeding the HTTP
// envelope's "metadata" block (handled by an external, out-of-scope
// handler).
type Metadata struct {
	Provider    catalog.ProviderID
	Cached      bool
	CacheSource string
	AgeSeconds  float64
}

// VolumeCatalogClient/OpenBibClient/ISBNRegistryClient are the subsets of
// internal/providers each client type exposes, declared here so Orchestrator
// can be tested against fakes without importing net/http.
type VolumeCatalogClient interface {
	SearchByISBN(ctx context.Context, isbn string) providers.Result
	SearchByFreeText(ctx context.Context, q string) providers.Result
}

type OpenBibClient interface {
	SearchByISBN(ctx context.Context, isbn string) providers.Result
	SearchByFreeText(ctx context.Context, q string) providers.Result
}

type ISBNRegistryClient interface {
	SearchByISBN(ctx context.Context, isbn string) providers.Result
}

// Orchestrator is the C5 implementation.
type Orchestrator struct {
	cfg           config.CoreConfig
	cache         cache.Cache
	volumeCatalog VolumeCatalogClient
	openBib       OpenBibClient
	isbnRegistry  ISBNRegistryClient
	clock         config.Clock
}

// New builds an Orchestrator. isbnRegistry may be nil if cover-image
// supplementation is not configured.
func New(cfg config.CoreConfig, c cache.Cache, volumeCatalog VolumeCatalogClient, openBib OpenBibClient, isbnRegistry ISBNRegistryClient, clock config.Clock) *Orchestrator {
	return &Orchestrator{cfg: cfg, cache: c, volumeCatalog: volumeCatalog, openBib: openBib, isbnRegistry: isbnRegistry, clock: clock}
}

// providerWork bundles a normalized Work/Editions/Authors triple with the
// provider that produced it, for the merge step.
type providerWork struct {
	provider catalog.ProviderID
	work     catalog.Work
	editions []catalog.Edition
	authors  []catalog.Author
}

// EnrichByISBN implements spec.md section 4.5.
func (o *Orchestrator) EnrichByISBN(ctx context.Context, isbn string) (Response, Metadata, error) {
	normalized := normalize.NormalizeISBN(isbn)
	if normalized == "" {
		return Response{}, Metadata{}, apperr.New(apperr.InvalidISBN, "not a valid ISBN-10 or ISBN-13")
	}

	key := cache.ISBNKey(normalized)
	fetch := func(ctx context.Context) ([]byte, catalog.ProviderID, int, error) {
		results := o.fanOut(ctx, func(ctx context.Context) providers.Result { return o.volumeCatalog.SearchByISBN(ctx, normalized) },
			func(ctx context.Context) providers.Result { return o.openBib.SearchByISBN(ctx, normalized) })

		var coverCandidate *catalog.Edition
		if o.isbnRegistry != nil {
			if res := o.isbnRegistry.SearchByISBN(ctx, normalized); res.Success {
				if rec, ok := res.RawPayload.(providers.ISBNRegistryRecord); ok {
					e := normalizers.ISBNRegistry(rec)
					coverCandidate = &e
				}
			}
		}

		return encodeMerged(mergeResults(results, coverCandidate))
	}

	return o.cachedFetch(ctx, key, o.cfg.CacheTTLs.ISBN, fetch)
}

// EnrichByTitle implements the title-only variant in spec.md section 4.5.
func (o *Orchestrator) EnrichByTitle(ctx context.Context, title string) (Response, Metadata, error) {
	if title == "" {
		return Response{}, Metadata{}, apperr.New(apperr.InvalidQuery, "title is required")
	}
	return o.enrichByFreeText(ctx, cache.TitleKey(title), title, o.cfg.CacheTTLs.Title)
}

// EnrichByAuthor implements the author-only variant in spec.md section 4.5.
func (o *Orchestrator) EnrichByAuthor(ctx context.Context, author string) (Response, Metadata, error) {
	if author == "" {
		return Response{}, Metadata{}, apperr.New(apperr.InvalidQuery, "author is required")
	}
	return o.enrichByFreeText(ctx, cache.AuthorKey(author), author, o.cfg.CacheTTLs.Title)
}

// EnrichAdvanced implements the multi-field variant in spec.md section 4.5.
func (o *Orchestrator) EnrichAdvanced(ctx context.Context, title, author, year, publisher string) (Response, Metadata, error) {
	if title == "" && author == "" {
		return Response{}, Metadata{}, apperr.New(apperr.InvalidQuery, "at least one of title or author is required")
	}
	q := title
	if author != "" {
		q = q + " " + author
	}
	return o.enrichByFreeText(ctx, cache.AdvancedKey(title, author, year, publisher), q, o.cfg.CacheTTLs.Advanced)
}

func (o *Orchestrator) enrichByFreeText(ctx context.Context, key, query string, ttl time.Duration) (Response, Metadata, error) {
	fetch := func(ctx context.Context) ([]byte, catalog.ProviderID, int, error) {
		results := o.fanOut(ctx, func(ctx context.Context) providers.Result { return o.volumeCatalog.SearchByFreeText(ctx, query) },
			func(ctx context.Context) providers.Result { return o.openBib.SearchByFreeText(ctx, query) })

		return encodeMerged(mergeResults(results, nil))
	}

	return o.cachedFetch(ctx, key, ttl, fetch)
}

// encodeMerged adapts mergeResults' output to cache.Fetcher's shape,
// encoding the Response to its cached wire form.
func encodeMerged(resp Response, provider catalog.ProviderID, quality int, err error) ([]byte, catalog.ProviderID, int, error) {
	if err != nil {
		return nil, catalog.ProviderNone, 0, err
	}
	payload, err := encodeResponse(resp, provider)
	if err != nil {
		return nil, catalog.ProviderNone, 0, apperr.Wrap(apperr.InternalError, err)
	}
	return payload, provider, quality, nil
}

// cachedFetch routes a cache-keyed read through cache.Cache.GetOrFetch so
// concurrent callers for the same key single-flight onto one fetch (spec.md
// section 4.4, "getOrFetch(key, fetcher, ttl, singleFlight=true)"). A
// errAllProvidersFailed fetch error is translated back into a successful,
// empty Response instead of an error and is never written through.
func (o *Orchestrator) cachedFetch(ctx context.Context, key string, ttl time.Duration, fetch cache.Fetcher) (Response, Metadata, error) {
	entry, err := o.cache.GetOrFetch(ctx, key, ttl, fetch)
	if errors.Is(err, errAllProvidersFailed) {
		return Response{Works: []catalog.Work{}, Editions: []catalog.Edition{}, Authors: []catalog.Author{}},
			Metadata{Provider: catalog.ProviderNone}, nil
	}
	if err != nil {
		return Response{}, Metadata{}, err
	}
	resp, err := decodeResponse(entry.Payload)
	if err != nil {
		return Response{}, Metadata{}, err
	}
	return resp, o.metadataFor(entry), nil
}

// fanOut concurrently invokes calls (bounded by CoreConfig.ProviderFanoutLimit)
// and returns the successful providerWork entries, best-effort: a failing
// provider is simply absent from the result per spec.md section 4.5/4.7.
func (o *Orchestrator) fanOut(ctx context.Context, volumeCatalogCall, openBibCall func(ctx context.Context) providers.Result) []providerWork {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, o.cfg.ProviderFanoutLimit))

	resultsCh := make(chan providerWork, 2)

	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, o.cfg.ProviderTimeout)
		defer cancel()
		res := volumeCatalogCall(callCtx)
		if pw, ok := toProviderWork(catalog.ProviderVolumeCatalog, res); ok {
			resultsCh <- pw
		}
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := context.WithTimeout(gctx, o.cfg.ProviderTimeout)
		defer cancel()
		res := openBibCall(callCtx)
		if pw, ok := toProviderWork(catalog.ProviderOpenBib, res); ok {
			resultsCh <- pw
		}
		return nil
	})

	_ = g.Wait()
	close(resultsCh)

	var out []providerWork
	for pw := range resultsCh {
		out = append(out, pw)
	}
	return out
}

func toProviderWork(provider catalog.ProviderID, res providers.Result) (providerWork, bool) {
	if !res.Success || res.RawPayload == nil {
		return providerWork{}, false
	}

	switch provider {
	case catalog.ProviderVolumeCatalog:
		switch payload := res.RawPayload.(type) {
		case []providers.VolumeCatalogWork:
			return firstNormalized(provider, payload, normalizers.VolumeCatalog)
		case providers.VolumeCatalogWork:
			w, e, a := normalizers.VolumeCatalog(payload)
			return providerWork{provider: provider, work: w, editions: e, authors: a}, true
		}
	case catalog.ProviderOpenBib:
		switch payload := res.RawPayload.(type) {
		case []providers.OpenBibWork:
			return firstNormalized(provider, payload, normalizers.OpenBib)
		case providers.OpenBibWork:
			w, e, a := normalizers.OpenBib(payload)
			return providerWork{provider: provider, work: w, editions: e, authors: a}, true
		}
	}
	return providerWork{}, false
}

func firstNormalized[T any](provider catalog.ProviderID, list []T, normalizeFn func(T) (catalog.Work, []catalog.Edition, []catalog.Author)) (providerWork, bool) {
	if len(list) == 0 {
		return providerWork{}, false
	}
	w, e, a := normalizeFn(list[0])
	return providerWork{provider: provider, work: w, editions: e, authors: a}, true
}

// metadataFor builds Metadata from a CacheEntry returned by GetOrFetch. A
// freshly-fetched-and-written entry carries an empty CacheSource (cache.go's
// TwoTierCache never stamps one on its own Put), which is how a fetch is
// told apart from a genuine cache hit without a separate return value.
func (o *Orchestrator) metadataFor(entry catalog.CacheEntry) Metadata {
	return Metadata{
		Provider:    entry.Provider,
		Cached:      entry.CacheSource != "",
		CacheSource: entry.CacheSource,
		AgeSeconds:  entry.Age(o.clock.Now()).Seconds(),
	}
}
