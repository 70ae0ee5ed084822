// Package pipeline implements the Job Pipelines (C8): batch_enrichment,
// csv_import, bookshelf_scan, and single_enrichment. Each is a driver that
// creates/locates a Progress Actor, mints its capability token, waits
// (best-effort) for the client's ready handshake, executes its
// pipeline-specific work against the Enrichment Orchestrator or the
// Multimodal-Model client, and reports through the actor, per spec.md
// section 4.8. Grounded on the teacher's bounded background-work pattern,
// Controller.refreshG (internal/controller.go), generalized from author
// refresh to job execution.
package pipeline

import (
	"context"

	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/progress"
)

// Launcher owns the Progress Actor registry every pipeline creates/locates
// its actor through.
type Launcher struct {
	registry *progress.Registry
	cfg      config.CoreConfig
	clock    config.Clock
}

// NewLauncher builds a Launcher against reg, using cfg's timeouts/limits
// and clock for deterministic tests.
func NewLauncher(reg *progress.Registry, cfg config.CoreConfig, clock config.Clock) *Launcher {
	return &Launcher{registry: reg, cfg: cfg, clock: clock}
}

// start performs the common steps 1-2 from spec.md section 4.8: create the
// actor and mint and set its token. It does not wait for the ready
// handshake; each pipeline's background goroutine does that through
// waitReady. Returns the actor and its freshly minted token; the
// caller is expected to return the token to its HTTP caller immediately and
// continue pipeline-specific work in a background goroutine.
func (l *Launcher) start(ctx context.Context, jobID string, p catalog.Pipeline, totalCount int) (*progress.Actor, string, error) {
	actor := l.registry.Create(ctx, jobID, p, totalCount)
	token := progress.GenerateToken()
	if err := actor.SetAuthToken(ctx, token, l.cfg.TokenLifetime); err != nil {
		return nil, "", err
	}
	return actor, token, nil
}

// waitReady performs step 3: wait up to ReadyHandshakeTimeout, continuing
// regardless of timeout/disconnect — "pipeline results will still be
// persisted to state and retrievable" (spec.md section 4.8).
func (l *Launcher) waitReady(ctx context.Context, actor *progress.Actor) {
	actor.WaitForReady(ctx, l.cfg.ReadyHandshakeTimeout)
}

// errorPayload builds the ErrorPayload for sendError, classifying
// retryability per spec.md section 4.8's "Failure classification".
func errorPayload(code, message string, retryable bool) progress.ErrorPayload {
	return progress.ErrorPayload{Code: code, Message: message, Retryable: retryable}
}
