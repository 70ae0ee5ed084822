// Package providers implements the typed, timeout-bounded adapters for the
// four upstream providers: Volume-Catalog, Open-Bib, ISBN-Registry, and
// Multimodal-Model. Each client emits raw provider DTOs (never free-form
// maps) per the "tagged variants" design note in SPEC_FULL.md section 9.
package providers

import (
	"context"
	"errors"
	"time"

	"github.com/foliograph/foliograph/internal/analytics"
	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
)

// ErrorKind is the closed classification from spec.md section 4.2.
type ErrorKind string

const (
	ErrNoAPIKey     ErrorKind = "NoAPIKey"
	ErrBadAuth      ErrorKind = "BadAuth"
	ErrRateLimited  ErrorKind = "RateLimited"
	ErrNotFound     ErrorKind = "NotFound"
	ErrProviderFail ErrorKind = "ProviderError"
	ErrTimeout      ErrorKind = "Timeout"
	ErrNetwork      ErrorKind = "Network"
)

// Result is the envelope every provider operation returns, per spec.md
// section 4.2. RawPayload is one of the small per-operation DTOs declared
// alongside each client; it is nil whenever Success is false.
type Result struct {
	Success          bool
	Provider         catalog.ProviderID
	ProcessingTimeMs int64
	RawPayload       any
	ErrorKind        ErrorKind
	ErrorMessage     string
	RetryAfter       time.Duration
}

// Secret resolves a provider credential. StaticSecret returns the credential
// immediately; deferred secrets (e.g. fetched from a vault) implement Get to
// resolve it lazily, matching the "direct string or deferred-secret" contract
// in spec.md section 4.2.
type Secret interface {
	Get(ctx context.Context) (string, error)
}

// StaticSecret is a Secret that is already known at construction time.
type StaticSecret string

func (s StaticSecret) Get(context.Context) (string, error) { return string(s), nil }

// DeferredSecret wraps an async resolver function, e.g. a vault client call.
type DeferredSecret func(ctx context.Context) (string, error)

func (f DeferredSecret) Get(ctx context.Context) (string, error) { return f(ctx) }

// resolveKey resolves secret, translating a nil Secret or resolution failure
// into a clean NoAPIKey result rather than issuing any request — the
// contract in spec.md section 4.2 requires this to happen without a network
// call.
func resolveKey(ctx context.Context, secret Secret, provider catalog.ProviderID) (string, *Result) {
	if secret == nil {
		return "", &Result{Success: false, Provider: provider, ErrorKind: ErrNoAPIKey, ErrorMessage: "no API key configured"}
	}
	key, err := secret.Get(ctx)
	if err != nil || key == "" {
		return "", &Result{Success: false, Provider: provider, ErrorKind: ErrNoAPIKey, ErrorMessage: "no API key configured"}
	}
	return key, nil
}

// record emits one analytics.Event for a completed operation, swallowing any
// write failure per spec.md section 7.
func record(ctx context.Context, sink analytics.Sink, provider catalog.ProviderID, operation string, started time.Time, resultCount int, errKind ErrorKind) {
	if sink == nil {
		return
	}
	sink.Record(ctx, analytics.Event{
		Provider:    provider,
		Operation:   operation,
		LatencyMs:   time.Since(started).Milliseconds(),
		ResultCount: resultCount,
		ErrorKind:   string(errKind),
	})
}

// classifyErr maps a transport/context error to an ErrorKind, used by every
// client after an HTTP/GraphQL/XML call fails. errorProxyTransport
// (internal/transporthttp) already attaches a "kind" detail for HTTP status
// errors; classifyErr recovers it, falling back to Timeout/Network for
// context deadlines and bare connection failures.
func classifyErr(ctx context.Context, err error) ErrorKind {
	if ctx.Err() != nil {
		return ErrTimeout
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Details != nil {
		if kind, ok := appErr.Details["kind"].(string); ok {
			return ErrorKind(kind)
		}
	}
	return ErrNetwork
}
