package pipeline

import (
	"context"
	"fmt"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/enrich"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/progress"
	"github.com/foliograph/foliograph/internal/providers"
)

// StartBookshelfScan launches the bookshelf_scan driver across photos: each
// photo is sent to the Multimodal-Model, the extracted titles are enriched,
// and results accumulate per-photo with optimistic-concurrency updates
// (spec.md section 4.8).
func (l *Launcher) StartBookshelfScan(ctx context.Context, multimodal *providers.MultimodalClient, orch *enrich.Orchestrator, jobID string, photos []string) (token string, err error) {
	if len(photos) == 0 {
		return "", apperr.New(apperr.EmptyBatch, "photos must be non-empty")
	}

	actor, token, err := l.start(ctx, jobID, catalog.PipelineBookshelfScan, 0)
	if err != nil {
		return "", err
	}
	if err := actor.InitBatch(ctx, len(photos)); err != nil {
		return "", err
	}

	go l.runBookshelfScan(actor, multimodal, orch, photos)
	return token, nil
}

func (l *Launcher) runBookshelfScan(actor *progress.Actor, multimodal *providers.MultimodalClient, orch *enrich.Orchestrator, photos []string) {
	bg := context.Background()
	l.waitReady(bg, actor)

	type photoOutcome struct {
		index      int
		booksFound int
		books      []map[string]any
	}

	outcomes := make([]photoOutcome, len(photos))
	totalBooksFound := 0

	for i, image := range photos {
		if actor.GetJobState().Cancelled {
			break
		}

		res := multimodal.ScanImage(bg, image)
		var extracted []providers.MultimodalBook
		if res.Success {
			if parsed, ok := res.RawPayload.(providers.MultimodalParseResult); ok {
				extracted = parsed.Books
			}
		}

		var found []map[string]any
		for _, b := range extracted {
			q := enrich.BookQuery{Title: b.Title, Author: b.Author, ISBN: b.ISBN}
			resp, meta, err := orch.EnrichBook(bg, q)
			if err != nil {
				continue
			}
			found = append(found, map[string]any{
				"query":    q,
				"works":    resp.Works,
				"editions": resp.Editions,
				"provider": meta.Provider,
			})
		}

		status := "completed"
		if !res.Success {
			status = "failed"
		}
		outcomes[i] = photoOutcome{index: i, booksFound: len(found), books: found}
		totalBooksFound += len(found)

		version := actor.GetJobState().Version
		if err := actor.UpdatePhoto(bg, i, status, len(found), version); err != nil {
			logging.Log(bg).Warn("bookshelf_scan photo update failed", "jobId", actor.JobID(), "index", i, "err", err)
		}

		processed := i + 1
		_ = actor.UpdateProgress(bg, progress.ProgressPayload{
			Progress:       float64(processed) / float64(len(photos)),
			ProcessedCount: processed,
			TotalCount:     len(photos),
			Message:        fmt.Sprintf("Scanned photo %d of %d", processed, len(photos)),
		})
	}

	if actor.GetJobState().Cancelled {
		return
	}

	photoSummaries := make([]map[string]any, len(outcomes))
	var allBooks []map[string]any
	for i, o := range outcomes {
		photoSummaries[i] = map[string]any{"index": o.index, "booksFound": o.booksFound}
		allBooks = append(allBooks, o.books...)
	}
	if allBooks == nil {
		allBooks = []map[string]any{}
	}

	_, _ = actor.Complete(bg, map[string]any{
		"photos":          photoSummaries,
		"totalBooksFound": totalBooksFound,
		"books":           allBooks,
	})
}
