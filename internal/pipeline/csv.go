package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/cache"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/progress"
	"github.com/foliograph/foliograph/internal/providers"
)

// csvCacheTTL is the TTL spec.md section 4.8 gives parsed CSV results.
const csvCacheTTL = 24 * time.Hour

// StartCSVImport launches the csv_import driver against csvText, following
// spec.md section 4.8's nine-step sequence: validate, cache check, model
// parse, row filtering, cache write, completion.
func (l *Launcher) StartCSVImport(ctx context.Context, multimodal *providers.MultimodalClient, c cache.Cache, jobID, csvText string) (token string, err error) {
	if len(csvText) == 0 || !looksLikeCSV(csvText) {
		return "", apperr.New(apperr.CSVProcessingError, "input is not recognizable CSV")
	}
	if int64(len(csvText)) > maxCSVBytes(l.cfg) {
		return "", apperr.New(apperr.FileTooLarge, "csv input exceeds maximum size")
	}

	actor, token, err := l.start(ctx, jobID, catalog.PipelineCSVImport, 0)
	if err != nil {
		return "", err
	}

	go l.runCSVImport(actor, multimodal, c, csvText)
	return token, nil
}

func maxCSVBytes(cfg config.CoreConfig) int64 {
	if cfg.CSVMaxBytes <= 0 {
		return 10 << 20
	}
	return cfg.CSVMaxBytes
}

func looksLikeCSV(text string) bool {
	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}
	return strings.ContainsAny(firstLine, ",\t;")
}

func (l *Launcher) runCSVImport(actor *progress.Actor, multimodal *providers.MultimodalClient, c cache.Cache, csvText string) {
	bg := context.Background()
	l.waitReady(bg, actor)

	// step (b)
	_ = actor.UpdateProgress(bg, progress.ProgressPayload{Progress: 0.02, Message: "Validating..."})

	key := cache.CSVParseKey(csvText)
	if entry, ok := c.Get(bg, key); ok {
		var cached csvCacheEntry
		if err := json.Unmarshal(entry.Payload, &cached); err == nil {
			_, _ = actor.Complete(bg, map[string]any{"books": cached.Books, "errors": cached.Errors, "successRate": cached.SuccessRate})
			return
		}
	}

	// step (d)
	_ = actor.UpdateProgress(bg, progress.ProgressPayload{Progress: 0.05, Message: "Uploading to model..."})

	// step (e)
	res := multimodal.ParseCSV(bg, csvText)
	if !res.Success {
		logging.Log(bg).Warn("csv_import model parse failed", "jobId", actor.JobID(), "err", res.ErrorMessage)
		_, _ = actor.SendError(bg, errorPayload(string(apperr.CSVProcessingError), res.ErrorMessage, true))
		return
	}
	parsed, ok := res.RawPayload.(providers.MultimodalParseResult)
	if !ok {
		_, _ = actor.SendError(bg, errorPayload(string(apperr.CSVProcessingError), "model returned an unrecognized shape", true))
		return
	}

	// step (f)
	books, skipped := filterRows(parsed.Books)
	if len(books) == 0 {
		_, _ = actor.SendError(bg, errorPayload(string(apperr.CSVProcessingError), "No valid books found", false))
		return
	}

	// step (g)
	_ = actor.UpdateProgress(bg, progress.ProgressPayload{
		Progress:       0.75,
		ProcessedCount: len(books),
		TotalCount:     len(books) + skipped,
		Message:        fmt.Sprintf("Parsed %d books", len(books)),
	})

	successRate := fmt.Sprintf("%d/%d", len(books), len(books)+skipped)
	errs := make([]map[string]any, 0, skipped)
	for i := 0; i < skipped; i++ {
		errs = append(errs, map[string]any{"reason": "missing title or author"})
	}

	// step (h)
	cached := csvCacheEntry{Books: books, Errors: errs, SuccessRate: successRate}
	if payload, err := json.Marshal(cached); err == nil {
		if err := c.Put(bg, key, payload, csvCacheTTL, catalog.ProviderMultimodal, 0); err != nil {
			logging.Log(bg).Warn("csv_import cache write failed", "jobId", actor.JobID(), "err", err)
		}
	}

	// step (i)
	_, _ = actor.Complete(bg, map[string]any{"books": books, "errors": errs, "successRate": successRate})
}

type csvCacheEntry struct {
	Books       []providers.MultimodalBook `json:"books"`
	Errors      []map[string]any           `json:"errors"`
	SuccessRate string                      `json:"successRate"`
}

// filterRows drops rows missing title or author, trims whitespace, and
// preserves any optional ISBN, per spec.md section 4.8 step (f).
func filterRows(rows []providers.MultimodalBook) (kept []providers.MultimodalBook, skipped int) {
	for _, b := range rows {
		title := strings.TrimSpace(b.Title)
		author := strings.TrimSpace(b.Author)
		if title == "" || author == "" {
			skipped++
			continue
		}
		kept = append(kept, providers.MultimodalBook{Title: title, Author: author, ISBN: strings.TrimSpace(b.ISBN)})
	}
	return kept, skipped
}
