package pipeline

import (
	"context"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/enrich"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/progress"
)

// StartSingleEnrichment launches the single_enrichment driver for one
// title/author/ISBN query, returning its job id and capability token
// immediately while the lookup runs in the background (spec.md section
// 4.8).
func (l *Launcher) StartSingleEnrichment(ctx context.Context, orch *enrich.Orchestrator, jobID string, q enrich.BookQuery) (token string, err error) {
	actor, token, err := l.start(ctx, jobID, catalog.PipelineSingleEnrichment, 1)
	if err != nil {
		return "", err
	}

	go func() {
		bg := context.Background()
		l.waitReady(bg, actor)

		resp, meta, err := orch.EnrichBook(bg, q)
		if err != nil {
			code, retryable := classify(err)
			logging.Log(bg).Warn("single_enrichment failed", "jobId", jobID, "err", err)
			_, _ = actor.SendError(bg, errorPayload(code, err.Error(), retryable))
			return
		}
		_ = actor.UpdateProgress(bg, progress.ProgressPayload{Progress: 1, ProcessedCount: 1, TotalCount: 1})
		_, _ = actor.Complete(bg, map[string]any{
			"works":    resp.Works,
			"editions": resp.Editions,
			"authors":  resp.Authors,
			"provider": meta.Provider,
			"cached":   meta.Cached,
		})
	}()

	return token, nil
}

// classify maps an apperr into the {code, retryable} pair the Progress
// Actor's error envelope carries.
func classify(err error) (string, bool) {
	code := apperr.CodeOf(err)
	if code == "" {
		return string(apperr.InternalError), true
	}
	return string(code), apperr.IsRetryable(err)
}
