package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"time"

	"github.com/foliograph/foliograph/internal/analytics"
	"github.com/foliograph/foliograph/internal/catalog"
)

// ISBNRegistryRecord is the ONIX-flavored XML shape the registry returns —
// modeled on the teacher's gr.go legacy XML endpoints (best_book,
// series/show, author/show), used here only for ISBN
// validation/registration metadata and cover-image supplementation per
// spec.md section 4.5.
type ISBNRegistryRecord struct {
	XMLName   xml.Name `xml:"ISBNRecord"`
	ISBN      string   `xml:"ISBN"`
	Title     string   `xml:"Title"`
	Publisher string   `xml:"Publisher"`
	ImageURL  string   `xml:"CoverImageURL"`
	PubDate   string   `xml:"PublicationDate"`
}

// ISBNRegistryClient is the C2 client for the ISBN registry's legacy XML
// endpoints.
type ISBNRegistryClient struct {
	httpClient *http.Client
	baseURL    string
	secret     Secret
	sink       analytics.Sink
}

// NewISBNRegistryClient builds a client against baseURL.
func NewISBNRegistryClient(httpClient *http.Client, baseURL string, secret Secret, sink analytics.Sink) *ISBNRegistryClient {
	return &ISBNRegistryClient{httpClient: httpClient, baseURL: baseURL, secret: secret, sink: sink}
}

// SearchByISBN fetches registration metadata and, when present, a cover
// image URL for isbn.
func (c *ISBNRegistryClient) SearchByISBN(ctx context.Context, isbn string) Result {
	const operation = "searchByISBN"
	started := time.Now()

	if _, res := resolveKey(ctx, c.secret, catalog.ProviderISBNRegistry); res != nil {
		record(ctx, c.sink, catalog.ProviderISBNRegistry, operation, started, 0, res.ErrorKind)
		return *res
	}

	url := fmt.Sprintf("%s/book/isbn/%s", c.baseURL, isbn)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Success: false, Provider: catalog.ProviderISBNRegistry, ErrorKind: ErrNetwork, ErrorMessage: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := classifyErr(ctx, err)
		record(ctx, c.sink, catalog.ProviderISBNRegistry, operation, started, 0, kind)
		return Result{Success: false, Provider: catalog.ProviderISBNRegistry, ProcessingTimeMs: time.Since(started).Milliseconds(), ErrorKind: kind, ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	var rec ISBNRegistryRecord
	if err := xml.NewDecoder(resp.Body).Decode(&rec); err != nil {
		record(ctx, c.sink, catalog.ProviderISBNRegistry, operation, started, 0, ErrProviderFail)
		return Result{Success: false, Provider: catalog.ProviderISBNRegistry, ErrorKind: ErrProviderFail, ErrorMessage: "malformed XML response"}
	}
	if rec.ISBN == "" {
		record(ctx, c.sink, catalog.ProviderISBNRegistry, operation, started, 0, ErrNotFound)
		return Result{Success: false, Provider: catalog.ProviderISBNRegistry, ErrorKind: ErrNotFound, ErrorMessage: "no registration record"}
	}

	record(ctx, c.sink, catalog.ProviderISBNRegistry, operation, started, 1, "")
	return Result{Success: true, Provider: catalog.ProviderISBNRegistry, ProcessingTimeMs: time.Since(started).Milliseconds(), RawPayload: rec}
}
