package pipeline

import (
	"context"
	"fmt"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/enrich"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/progress"
)

// StartBatchEnrichment launches the batch_enrichment driver over books,
// bounding concurrency to CoreConfig.BatchConcurrency. JobState.Cancelled
// is checked once before the batch starts and once after every book has
// finished; a cancel that arrives mid-batch does not stop the remaining
// books from being enriched, and the driver then returns without Complete.
func (l *Launcher) StartBatchEnrichment(ctx context.Context, orch *enrich.Orchestrator, jobID string, books []enrich.BookQuery) (token string, err error) {
	actor, token, err := l.start(ctx, jobID, catalog.PipelineBatchEnrichment, len(books))
	if err != nil {
		return "", err
	}
	if len(books) == 0 {
		go func() {
			_, _ = actor.SendError(context.Background(), errorPayload(string(apperr.EmptyBatch), "books must be non-empty", false))
		}()
		return token, nil
	}

	go l.runBatchEnrichment(actor, orch, books)
	return token, nil
}

func (l *Launcher) runBatchEnrichment(actor *progress.Actor, orch *enrich.Orchestrator, books []enrich.BookQuery) {
	bg := context.Background()
	l.waitReady(bg, actor)

	total := len(books)
	if actor.GetJobState().Cancelled {
		return
	}

	// EnrichMultiple dedupes by normalized ISBN within the batch (spec.md
	// section 4.8): two requesters sharing an ISBN fan out to one fetch.
	results := orch.EnrichMultiple(bg, books, func(n, total int) {
		_ = actor.UpdateProgress(bg, progress.ProgressPayload{
			Progress:       float64(n) / float64(total),
			ProcessedCount: n,
			TotalCount:     total,
			Message:        fmt.Sprintf("Enriching %d of %d", n, total),
		})
	})

	if actor.GetJobState().Cancelled {
		return
	}

	var okBooks []map[string]any
	var errs []map[string]any
	for i, r := range results {
		if r.Err != nil {
			code, _ := classify(r.Err)
			errs = append(errs, map[string]any{"index": i, "query": r.Query, "code": code, "message": r.Err.Error()})
			continue
		}
		okBooks = append(okBooks, map[string]any{
			"query":    r.Query,
			"works":    r.Response.Works,
			"editions": r.Response.Editions,
			"authors":  r.Response.Authors,
			"provider": r.Metadata.Provider,
		})
	}
	if okBooks == nil {
		okBooks = []map[string]any{}
	}
	if errs == nil {
		errs = []map[string]any{}
	}

	logging.Log(bg).Info("batch_enrichment finished", "jobId", actor.JobID(), "ok", len(okBooks), "errors", len(errs))
	_, _ = actor.Complete(bg, map[string]any{
		"books":       okBooks,
		"errors":      errs,
		"successRate": fmt.Sprintf("%d/%d", len(okBooks), total),
	})
}
