package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foliograph/foliograph/internal/analytics"
	"github.com/foliograph/foliograph/internal/catalog"
)

// OpenBibWork is the raw per-work shape Open-Bib returns — modeled on the
// teacher's internal/hardcover.go work/edition/author mapping, generalized
// from GraphQL-generated types to plain JSON-over-HTTP.
type OpenBibWork struct {
	Key         string            `json:"key"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Subjects    []string          `json:"subjects"`
	Authors     []OpenBibAuthor   `json:"authors"`
	Editions    []OpenBibEdition  `json:"editions"`
	FirstYear   int               `json:"firstPublishYear"`
}

// OpenBibAuthor is an author entry embedded in an OpenBibWork.
type OpenBibAuthor struct {
	Name      string `json:"name"`
	BirthYear int    `json:"birthYear"`
	Bio       string `json:"bio"`
}

// OpenBibEdition is one edition entry embedded in an OpenBibWork.
type OpenBibEdition struct {
	ISBN13      string `json:"isbn13"`
	ISBN10      string `json:"isbn10"`
	Publisher   string `json:"publisher"`
	PublishDate string `json:"publishDate"`
	NumPages    int    `json:"numPages"`
	CoverURL    string `json:"coverUrl"`
	PhysFormat  string `json:"physicalFormat"`
	Language    string `json:"language"`
}

// openBibSearchResponse is the documented top-level shape of a search
// response; one of the small set of tagged variants per spec.md section 9.
type openBibSearchResponse struct {
	Works []OpenBibWork `json:"works"`
}

type openBibWorkResponse struct {
	Work *OpenBibWork `json:"work"`
}

// OpenBibClient is the C2 client for the open bibliographic database.
type OpenBibClient struct {
	httpClient *http.Client
	baseURL    string
	secret     Secret
	sink       analytics.Sink
}

// NewOpenBibClient builds a client against baseURL using httpClient, which
// is expected to already carry the transporthttp scoped/throttled/header
// chain.
func NewOpenBibClient(httpClient *http.Client, baseURL string, secret Secret, sink analytics.Sink) *OpenBibClient {
	return &OpenBibClient{httpClient: httpClient, baseURL: baseURL, secret: secret, sink: sink}
}

// SearchByISBN looks up a single edition+work by ISBN.
func (c *OpenBibClient) SearchByISBN(ctx context.Context, isbn string) Result {
	return c.get(ctx, "searchByISBN", fmt.Sprintf("%s/isbn/%s.json", c.baseURL, isbn), true)
}

// SearchByFreeText looks up candidate works by title and/or author.
func (c *OpenBibClient) SearchByFreeText(ctx context.Context, q string) Result {
	return c.get(ctx, "searchByFreeText", fmt.Sprintf("%s/search.json?q=%s", c.baseURL, q), false)
}

func (c *OpenBibClient) get(ctx context.Context, operation, url string, single bool) Result {
	started := time.Now()

	if _, res := resolveKey(ctx, c.secret, catalog.ProviderOpenBib); res != nil {
		record(ctx, c.sink, catalog.ProviderOpenBib, operation, started, 0, res.ErrorKind)
		return *res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		record(ctx, c.sink, catalog.ProviderOpenBib, operation, started, 0, ErrNetwork)
		return Result{Success: false, Provider: catalog.ProviderOpenBib, ErrorKind: ErrNetwork, ErrorMessage: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := classifyErr(ctx, err)
		record(ctx, c.sink, catalog.ProviderOpenBib, operation, started, 0, kind)
		return Result{Success: false, Provider: catalog.ProviderOpenBib, ProcessingTimeMs: time.Since(started).Milliseconds(), ErrorKind: kind, ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	var payload any
	var count int
	if single {
		var wrapped openBibWorkResponse
		if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
			record(ctx, c.sink, catalog.ProviderOpenBib, operation, started, 0, ErrProviderFail)
			return Result{Success: false, Provider: catalog.ProviderOpenBib, ErrorKind: ErrProviderFail, ErrorMessage: "malformed response"}
		}
		if wrapped.Work == nil {
			record(ctx, c.sink, catalog.ProviderOpenBib, operation, started, 0, ErrNotFound)
			return Result{Success: false, Provider: catalog.ProviderOpenBib, ErrorKind: ErrNotFound, ErrorMessage: "no matching work"}
		}
		payload = *wrapped.Work
		count = 1
	} else {
		var wrapped openBibSearchResponse
		if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
			record(ctx, c.sink, catalog.ProviderOpenBib, operation, started, 0, ErrProviderFail)
			return Result{Success: false, Provider: catalog.ProviderOpenBib, ErrorKind: ErrProviderFail, ErrorMessage: "malformed response"}
		}
		payload = wrapped.Works
		count = len(wrapped.Works)
	}

	record(ctx, c.sink, catalog.ProviderOpenBib, operation, started, count, "")
	return Result{Success: true, Provider: catalog.ProviderOpenBib, ProcessingTimeMs: time.Since(started).Milliseconds(), RawPayload: payload}
}
