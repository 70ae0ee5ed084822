package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/foliograph/foliograph/internal/analytics"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/gqlbatch"
)

// VolumeCatalogWork is the raw shape returned by the Volume-Catalog's book
// search operation — modeled on the teacher's gr.go work/edition mapping,
// generalized away from that provider's specific field names.
type VolumeCatalogWork struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Authors     []string              `json:"authors"`
	Editions    []VolumeCatalogEdition `json:"editions"`
}

// VolumeCatalogEdition is one edition entry inside a VolumeCatalogWork.
type VolumeCatalogEdition struct {
	ISBN13      string `json:"isbn13"`
	ISBN10      string `json:"isbn10"`
	Publisher   string `json:"publisher"`
	ReleaseDate string `json:"releaseDate"`
	PageCount   int    `json:"pageCount"`
	ImageURL    string `json:"imageUrl"`
	Format      string `json:"format"`
	Language    string `json:"language"`
}

const volumeCatalogSearchQuery = `
query SearchWorks($q: String!) {
	search(query: $q) {
		id
		title
		description
		authors
		editions {
			isbn13
			isbn10
			publisher
			releaseDate
			pageCount
			imageUrl
			format
			language
		}
	}
}`

const volumeCatalogByISBNQuery = `
query WorkByISBN($isbn: String!) {
	bookByIsbn(isbn: $isbn) {
		id
		title
		description
		authors
		editions {
			isbn13
			isbn10
			publisher
			releaseDate
			pageCount
			imageUrl
			format
			language
		}
	}
}`

// VolumeCatalogClient is the C2 client for the commercial volume catalog.
// Requests for the same logical fetch window are coalesced by the embedded
// gqlbatch.BatchedClient.
type VolumeCatalogClient struct {
	gql    gqlbatch.Client
	secret Secret
	sink   analytics.Sink
}

// NewVolumeCatalogClient builds a client over an already-wired batched
// GraphQL transport (see internal/gqlbatch and internal/transporthttp).
func NewVolumeCatalogClient(gql gqlbatch.Client, secret Secret, sink analytics.Sink) *VolumeCatalogClient {
	return &VolumeCatalogClient{gql: gql, secret: secret, sink: sink}
}

// SearchByISBN looks up a single book by ISBN.
func (c *VolumeCatalogClient) SearchByISBN(ctx context.Context, isbn string) Result {
	return c.query(ctx, "searchByISBN", volumeCatalogByISBNQuery, map[string]any{"isbn": isbn}, "bookByIsbn")
}

// SearchByFreeText looks up candidate books by a free-text query (title,
// author, or a combination).
func (c *VolumeCatalogClient) SearchByFreeText(ctx context.Context, q string) Result {
	return c.query(ctx, "searchByFreeText", volumeCatalogSearchQuery, map[string]any{"q": q}, "search")
}

func (c *VolumeCatalogClient) query(ctx context.Context, operation, query string, variables map[string]any, field string) Result {
	started := time.Now()

	if _, res := resolveKey(ctx, c.secret, catalog.ProviderVolumeCatalog); res != nil {
		record(ctx, c.sink, catalog.ProviderVolumeCatalog, operation, started, 0, res.ErrorKind)
		return *res
	}

	req := &gqlbatch.Request{Query: query, Variables: variables, OpName: operation}
	resp := &gqlbatch.Response{}
	if err := c.gql.MakeRequest(ctx, req, resp); err != nil {
		kind := classifyErr(ctx, err)
		record(ctx, c.sink, catalog.ProviderVolumeCatalog, operation, started, 0, kind)
		return Result{Success: false, Provider: catalog.ProviderVolumeCatalog, ProcessingTimeMs: time.Since(started).Milliseconds(), ErrorKind: kind, ErrorMessage: err.Error()}
	}
	if len(resp.Errors) > 0 {
		record(ctx, c.sink, catalog.ProviderVolumeCatalog, operation, started, 0, ErrProviderFail)
		return Result{Success: false, Provider: catalog.ProviderVolumeCatalog, ProcessingTimeMs: time.Since(started).Milliseconds(), ErrorKind: ErrProviderFail, ErrorMessage: resp.Errors[0].Message}
	}

	payload, count := decodeVolumeField(resp.Data, field)
	record(ctx, c.sink, catalog.ProviderVolumeCatalog, operation, started, count, "")
	return Result{Success: true, Provider: catalog.ProviderVolumeCatalog, ProcessingTimeMs: time.Since(started).Milliseconds(), RawPayload: payload}
}

// decodeVolumeField pulls field out of the batched response envelope and
// decodes it either as a single work (ISBN lookup) or a list (free-text
// search), returning the payload and a result count for analytics.
func decodeVolumeField(data json.RawMessage, field string) (any, int) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, 0
	}
	raw, ok := envelope[field]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, 0
	}

	var list []VolumeCatalogWork
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, len(list)
	}

	var single VolumeCatalogWork
	if err := json.Unmarshal(raw, &single); err == nil {
		return []VolumeCatalogWork{single}, 1
	}
	return nil, 0
}
