// Package gqlbatch implements a request-batching GraphQL client: concurrent
// callers issuing distinct queries against the same endpoint within a short
// window are coalesced into a single HTTP round trip. Adapted from the
// teacher's internal/graphql.go batchedgqlclient, which manipulates the
// query AST with graphql-go/graphql's parser/printer rather than relying on
// generated batch-query code. The Khan/genqlient runtime graphql.Client
// interface is implemented directly, without genqlient's code generator.
package gqlbatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/printer"
	"github.com/graphql-go/graphql/language/source"
	"golang.org/x/exp/rand"
	"golang.org/x/time/rate"

	"github.com/foliograph/foliograph/internal/apperr"
)

// Request mirrors genqlient's runtime graphql.Request shape: an operation
// document plus its variables.
type Request struct {
	Query     string
	Variables map[string]any
	OpName    string
}

// Response mirrors genqlient's runtime graphql.Response shape.
type Response struct {
	Data   json.RawMessage
	Errors []GQLError
}

// GQLError is one entry of a GraphQL response's top-level "errors" array.
type GQLError struct {
	Message string `json:"message"`
}

// Client is the interface gqlbatch.Client and any test double implement; it
// matches Khan/genqlient's runtime graphql.Client signature closely enough
// that generated callers (were generation ever run) could use it unmodified.
type Client interface {
	MakeRequest(ctx context.Context, req *Request, resp *Response) error
}

type pending struct {
	req  *Request
	resp *Response
	done chan error
}

// BatchedClient accumulates concurrent MakeRequest calls into batches of up
// to batchSize, flushed after window (20ms) elapses or the batch fills,
// whichever comes first.
type BatchedClient struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	batchSize  int
	window     time.Duration

	mu      sync.Mutex
	buffer  []*pending
	flushAt *time.Timer
	rng     *rand.Rand
}

// NewBatchedClient builds a client posting to endpoint, admitting at most
// rps requests per second, batching up to batchSize queries per round trip.
func NewBatchedClient(endpoint string, httpClient *http.Client, rps float64, batchSize int) *BatchedClient {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchedClient{
		endpoint:   endpoint,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), batchSize),
		batchSize:  batchSize,
		window:     20 * time.Millisecond,
		rng:        rand.New(rand.NewSource(1)),
	}
}

// MakeRequest enqueues req and blocks until its slice of the batched
// response is available or ctx is done.
func (c *BatchedClient) MakeRequest(ctx context.Context, req *Request, resp *Response) error {
	p := &pending{req: req, resp: resp, done: make(chan error, 1)}

	c.mu.Lock()
	c.buffer = append(c.buffer, p)
	shouldFlush := len(c.buffer) >= c.batchSize
	if !shouldFlush && c.flushAt == nil {
		c.flushAt = time.AfterFunc(c.window, func() { c.flush(context.Background()) })
	}
	c.mu.Unlock()

	if shouldFlush {
		c.flush(ctx)
	}

	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *BatchedClient) flush(ctx context.Context) {
	c.mu.Lock()
	batch := c.buffer
	c.buffer = nil
	if c.flushAt != nil {
		c.flushAt.Stop()
		c.flushAt = nil
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := c.limiter.Wait(ctx); err != nil {
		failAll(batch, err)
		return
	}

	doc, aliases, variables, err := c.buildQuery(batch)
	if err != nil {
		failAll(batch, apperr.Wrap(apperr.ProviderError, err))
		return
	}

	body, err := json.Marshal(map[string]any{"query": printer.Print(doc), "variables": variables})
	if err != nil {
		failAll(batch, err)
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		failAll(batch, err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		failAll(batch, classifyHTTPErr(ctx, err))
		return
	}
	defer httpResp.Body.Close()

	var combined struct {
		Data   map[string]json.RawMessage `json:"data"`
		Errors []GQLError                 `json:"errors"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&combined); err != nil {
		failAll(batch, apperr.Wrap(apperr.ProviderError, err))
		return
	}

	for i, p := range batch {
		alias := aliases[i]
		p.resp.Errors = combined.Errors
		if raw, ok := combined.Data[alias]; ok {
			p.resp.Data = raw
		}
		p.done <- nil
	}
}

func failAll(batch []*pending, err error) {
	for _, p := range batch {
		p.done <- err
	}
}

func classifyHTTPErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperr.New(apperr.ProviderError, "timeout").WithRetryable(true)
	}
	return apperr.Wrap(apperr.ProviderError, err).WithRetryable(true)
}

// buildQuery parses each pending request's query document, renames its
// single top-level operation to a unique alias (b0, b1, ...), namespaces its
// variables (b0_name, b1_name, ...), and merges every field into one
// document with one query operation — the AST-manipulation technique the
// teacher's internal/graphql.go uses to batch without server-side batching
// support.
func (c *BatchedClient) buildQuery(batch []*pending) (*ast.Document, []string, map[string]any, error) {
	mergedVars := map[string]any{}
	var selections []ast.Selection
	var varDefs []*ast.VariableDefinition
	aliases := make([]string, len(batch))

	for i, p := range batch {
		src := source.NewSource(&source.Source{Body: []byte(p.req.Query)})
		doc, err := parser.Parse(parser.ParseParams{Source: src})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("gqlbatch: parsing query %d: %w", i, err)
		}

		alias := fmt.Sprintf("b%d", i)
		aliases[i] = alias

		opDef, ok := firstOperation(doc)
		if !ok {
			return nil, nil, nil, fmt.Errorf("gqlbatch: query %d has no operation", i)
		}

		for _, vd := range opDef.VariableDefinitions {
			name := vd.Variable.Name.Value
			prefixed := fmt.Sprintf("%s_%s", alias, name)
			if v, ok := p.req.Variables[name]; ok {
				mergedVars[prefixed] = v
			}
			renamed := *vd
			renamed.Variable = ast.NewVariable(&ast.Variable{
				Name: ast.NewName(&ast.Name{Value: prefixed}),
			})
			varDefs = append(varDefs, &renamed)
		}

		for _, sel := range opDef.SelectionSet.Selections {
			field, ok := sel.(*ast.Field)
			if !ok {
				continue
			}
			renamed := *field
			renamed.Alias = ast.NewName(&ast.Name{Value: alias})
			renameFieldVariables(&renamed, alias)
			selections = append(selections, &renamed)
		}
	}

	op := ast.NewOperationDefinition(&ast.OperationDefinition{
		Operation:           "query",
		VariableDefinitions: varDefs,
		SelectionSet:        ast.NewSelectionSet(&ast.SelectionSet{Selections: selections}),
	})
	doc := ast.NewDocument(&ast.Document{Definitions: []ast.Node{op}})
	return doc, aliases, mergedVars, nil
}

func firstOperation(doc *ast.Document) (*ast.OperationDefinition, bool) {
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			return op, true
		}
	}
	return nil, false
}

// renameFieldVariables rewrites every $var reference within field's argument
// list to $alias_var, recursing into nested selection sets.
func renameFieldVariables(field *ast.Field, alias string) {
	for _, arg := range field.Arguments {
		if v, ok := arg.Value.(*ast.Variable); ok {
			v.Name.Value = fmt.Sprintf("%s_%s", alias, v.Name.Value)
		}
	}
	if field.SelectionSet == nil {
		return
	}
	for _, sel := range field.SelectionSet.Selections {
		if nested, ok := sel.(*ast.Field); ok {
			renameFieldVariables(nested, alias)
		}
	}
}
