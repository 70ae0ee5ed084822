package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/foliograph/foliograph/internal/analytics"
	"github.com/foliograph/foliograph/internal/catalog"
)

// MultimodalBook is one book extracted from a CSV import or a bookshelf
// photo. This is the single canonical shape every sniffed response variant
// below is normalized into.
type MultimodalBook struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	ISBN   string `json:"isbn,omitempty"`
}

// MultimodalParseResult is the RawPayload both ParseCSV and ScanImage return.
type MultimodalParseResult struct {
	Books []MultimodalBook
}

// MultimodalScanResult is not returned by any operation: ScanImage returns
// MultimodalParseResult, as ParseCSV does.
type MultimodalScanResult struct {
	Books []MultimodalBook
}

// shape-sniff paths: the model is not always consistent about how it wraps
// its JSON (design note, SPEC_FULL.md section 4.2), so candidates are tried
// in order with ojg/jp before falling back to "no books found".
var bookListPaths = []jp.Expr{
	mustParsePath("$.books"),
	mustParsePath("$.choices[0].message.content.books"),
	mustParsePath("$.result.books"),
	mustParsePath("$"),
}

func mustParsePath(s string) jp.Expr {
	expr, err := jp.ParseString(s)
	if err != nil {
		panic("providers: invalid jsonpath " + s + ": " + err.Error())
	}
	return expr
}

// MultimodalClient is the C2 client for the multimodal model's chat-style
// completion API.
type MultimodalClient struct {
	httpClient *http.Client
	baseURL    string
	secret     Secret
	sink       analytics.Sink
}

// NewMultimodalClient builds a client against baseURL.
func NewMultimodalClient(httpClient *http.Client, baseURL string, secret Secret, sink analytics.Sink) *MultimodalClient {
	return &MultimodalClient{httpClient: httpClient, baseURL: baseURL, secret: secret, sink: sink}
}

// ParseCSV asks the model to extract books from raw CSV text.
func (c *MultimodalClient) ParseCSV(ctx context.Context, csvText string) Result {
	prompt := "Extract every book (title, author, isbn if present) from this CSV data as JSON: {\"books\":[{\"title\":...,\"author\":...,\"isbn\":...}]}\n\n" + csvText
	return c.complete(ctx, "parseCSV", prompt)
}

// ScanImage asks the model to extract books visible in a bookshelf photo.
// image is either a data URL (base64) or an https URL, passed through
// unmodified to the model per spec.md section 4.8.
func (c *MultimodalClient) ScanImage(ctx context.Context, image string) Result {
	prompt := "Identify every book spine visible in this image and return JSON: {\"books\":[{\"title\":...,\"author\":...}]}"
	return c.completeWithImage(ctx, "scanImage", prompt, image)
}

type completionRequest struct {
	Messages []completionMessage `json:"messages"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Image   string `json:"image,omitempty"`
}

func (c *MultimodalClient) complete(ctx context.Context, operation, prompt string) Result {
	return c.send(ctx, operation, completionRequest{Messages: []completionMessage{{Role: "user", Content: prompt}}})
}

func (c *MultimodalClient) completeWithImage(ctx context.Context, operation, prompt, image string) Result {
	return c.send(ctx, operation, completionRequest{Messages: []completionMessage{{Role: "user", Content: prompt, Image: image}}})
}

func (c *MultimodalClient) send(ctx context.Context, operation string, body completionRequest) Result {
	started := time.Now()

	if _, res := resolveKey(ctx, c.secret, catalog.ProviderMultimodal); res != nil {
		record(ctx, c.sink, catalog.ProviderMultimodal, operation, started, 0, res.ErrorKind)
		return *res
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{Success: false, Provider: catalog.ProviderMultimodal, ErrorKind: ErrProviderFail, ErrorMessage: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{Success: false, Provider: catalog.ProviderMultimodal, ErrorKind: ErrNetwork, ErrorMessage: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := classifyErr(ctx, err)
		record(ctx, c.sink, catalog.ProviderMultimodal, operation, started, 0, kind)
		retryAfter := time.Duration(0)
		if kind == ErrRateLimited {
			retryAfter = 30 * time.Second
		}
		return Result{Success: false, Provider: catalog.ProviderMultimodal, ProcessingTimeMs: time.Since(started).Milliseconds(), ErrorKind: kind, ErrorMessage: err.Error(), RetryAfter: retryAfter}
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		record(ctx, c.sink, catalog.ProviderMultimodal, operation, started, 0, ErrProviderFail)
		return Result{Success: false, Provider: catalog.ProviderMultimodal, ErrorKind: ErrProviderFail, ErrorMessage: "failed reading model response"}
	}

	raw, err := oj.Parse(rawBody)
	if err != nil {
		record(ctx, c.sink, catalog.ProviderMultimodal, operation, started, 0, ErrProviderFail)
		return Result{Success: false, Provider: catalog.ProviderMultimodal, ErrorKind: ErrProviderFail, ErrorMessage: "model returned non-JSON output"}
	}

	books := sniffBookList(raw)
	record(ctx, c.sink, catalog.ProviderMultimodal, operation, started, len(books), "")
	return Result{Success: true, Provider: catalog.ProviderMultimodal, ProcessingTimeMs: time.Since(started).Milliseconds(), RawPayload: MultimodalParseResult{Books: books}}
}

// sniffBookList tries each documented response shape in turn (see
// bookListPaths) and decodes the first one that yields a non-empty, well-
// formed book array.
func sniffBookList(raw any) []MultimodalBook {
	for _, path := range bookListPaths {
		matches := path.Get(raw)
		if len(matches) == 0 {
			continue
		}
		if books, ok := decodeBookList(matches[0]); ok && len(books) > 0 {
			return books
		}
	}
	return nil
}

func decodeBookList(v any) ([]MultimodalBook, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]MultimodalBook, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		b := MultimodalBook{
			Title:  stringField(m, "title"),
			Author: stringField(m, "author"),
			ISBN:   stringField(m, "isbn"),
		}
		if b.Title == "" && b.Author == "" {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
