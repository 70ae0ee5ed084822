// Package analytics defines the provider-call recorder sink from
// SPEC_FULL.md section 4.2. It is one of the collaborators explicitly named
// as "out of scope, treated as an interface" in spec.md section 1 — this
// package owns only the interface and a default logging implementation.
package analytics

import (
	"context"

	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/logging"
)

// Event is one provider call's outcome, recorded per spec.md section 4.2:
// {provider, operation, latencyMs, resultCount, errorKind?}.
type Event struct {
	Provider    catalog.ProviderID
	Operation   string
	LatencyMs   int64
	ResultCount int
	ErrorKind   string
}

// Sink records provider-call events. Implementations MUST NOT block the
// caller meaningfully and MUST NOT return an error the caller is expected to
// act on — write failures are logged and dropped (spec.md section 7).
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// LoggingSink is the default Sink: a structured log line per event. Good
// enough until a real metrics/analytics backend is wired in by an external
// deployment (out of core scope per spec.md section 1).
type LoggingSink struct{}

func (LoggingSink) Record(ctx context.Context, ev Event) {
	l := logging.Log(ctx).With(
		"provider", ev.Provider,
		"operation", ev.Operation,
		"latency_ms", ev.LatencyMs,
		"result_count", ev.ResultCount,
	)
	if ev.ErrorKind != "" {
		l.Warn("provider call failed", "error_kind", ev.ErrorKind)
		return
	}
	l.Debug("provider call")
}

// NopSink discards every event; useful in unit tests that don't care about
// analytics output.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}
