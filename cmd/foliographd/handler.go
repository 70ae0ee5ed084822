package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/cache"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/enrich"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/pipeline"
	"github.com/foliograph/foliograph/internal/progress"
	"github.com/foliograph/foliograph/internal/providers"
)

// handler is our HTTP handler. It defers all business logic to the
// orchestrator/launcher/registry and handles muxing, decoding, and the
// envelope shape, mirroring the teacher's handler.go.
type handler struct {
	cfg        config.CoreConfig
	orch       *enrich.Orchestrator
	multimodal *providers.MultimodalClient
	cache      cache.Cache
	registry   *progress.Registry
	launcher   *pipeline.Launcher
}

func newHandler(cfg config.CoreConfig, orch *enrich.Orchestrator, multimodal *providers.MultimodalClient, c cache.Cache, registry *progress.Registry, launcher *pipeline.Launcher) *handler {
	return &handler{
		cfg:        cfg,
		orch:       orch,
		multimodal: multimodal,
		cache:      c,
		registry:   registry,
		launcher:   launcher,
	}
}

// routes registers the handler's endpoints on a new mux.
func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /enrich/isbn", h.enrichByISBN)
	mux.HandleFunc("POST /enrich/title", h.enrichByTitle)
	mux.HandleFunc("POST /enrich/author", h.enrichByAuthor)
	mux.HandleFunc("POST /enrich/advanced", h.enrichAdvanced)
	mux.HandleFunc("POST /enrich/editions", h.enrichEditions)

	mux.HandleFunc("POST /jobs/single", h.startSingle)
	mux.HandleFunc("POST /jobs/batch", h.startBatch)
	mux.HandleFunc("POST /jobs/csv", h.startCSV)
	mux.HandleFunc("POST /jobs/scan", h.startScan)

	mux.HandleFunc("/ws/progress", h.wsProgress)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return mux
}

// envelope is the {data, metadata, error?} response shape from spec.md
// section 6.
type envelope struct {
	Data     any            `json:"data"`
	Metadata envelopeMeta   `json:"metadata"`
	Error    *envelopeError `json:"error,omitempty"`
}

type envelopeMeta struct {
	Timestamp      time.Time `json:"timestamp"`
	ProcessingTime int64     `json:"processingTime"`
	Provider       string    `json:"provider,omitempty"`
	Cached         bool      `json:"cached,omitempty"`
	CacheSource    string    `json:"cacheSource,omitempty"`
	AgeSeconds     float64   `json:"ageSeconds,omitempty"`
}

type envelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (h *handler) writeData(w http.ResponseWriter, status int, data any, meta enrich.Metadata) {
	em := envelopeMeta{
		Timestamp: time.Now(),
		Provider:  string(meta.Provider),
		Cached:    meta.Cached,
	}
	if meta.CacheSource != "" {
		em.CacheSource = meta.CacheSource
	}
	if meta.AgeSeconds > 0 {
		em.AgeSeconds = meta.AgeSeconds
	}
	h.write(w, status, envelope{Data: data, Metadata: em})
}

func (h *handler) writeAccepted(w http.ResponseWriter, jobID, token string, totalCount int) {
	h.write(w, http.StatusAccepted, envelope{
		Data:     map[string]any{"jobId": jobID, "token": token, "totalCount": totalCount},
		Metadata: envelopeMeta{Timestamp: time.Now()},
	})
}

func (h *handler) write(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// error translates err into the {data:null, error} envelope, recovering the
// status code from an *apperr.Error via errors.As (spec.md section 7).
func (h *handler) error(w http.ResponseWriter, r *http.Request, err error) {
	var ae *apperr.Error
	status := http.StatusInternalServerError
	code := string(apperr.InternalError)
	message := err.Error()
	var details map[string]any
	if errors.As(err, &ae) {
		status = ae.Status()
		code = string(ae.Code)
		message = ae.Message
		details = ae.Details
	}
	logging.Log(r.Context()).Warn("request failed", "code", code, "err", err)
	h.write(w, status, envelope{
		Data:     nil,
		Metadata: envelopeMeta{Timestamp: time.Now()},
		Error:    &envelopeError{Code: code, Message: message, Details: details},
	})
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.error(w, r, apperr.Wrap(apperr.InvalidQuery, err))
		return false
	}
	return true
}

type isbnRequest struct {
	ISBN string `json:"isbn"`
}

func (h *handler) enrichByISBN(w http.ResponseWriter, r *http.Request) {
	var req isbnRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, meta, err := h.orch.EnrichByISBN(r.Context(), req.ISBN)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, resp, meta)
}

type titleRequest struct {
	Title string `json:"title"`
}

func (h *handler) enrichByTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, meta, err := h.orch.EnrichByTitle(r.Context(), req.Title)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, resp, meta)
}

type authorRequest struct {
	Author string `json:"author"`
}

func (h *handler) enrichByAuthor(w http.ResponseWriter, r *http.Request) {
	var req authorRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, meta, err := h.orch.EnrichByAuthor(r.Context(), req.Author)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, resp, meta)
}

type advancedRequest struct {
	Title     string `json:"title"`
	Author    string `json:"author"`
	Year      string `json:"year"`
	Publisher string `json:"publisher"`
}

func (h *handler) enrichAdvanced(w http.ResponseWriter, r *http.Request) {
	var req advancedRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, meta, err := h.orch.EnrichAdvanced(r.Context(), req.Title, req.Author, req.Year, req.Publisher)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, resp, meta)
}

type editionsRequest struct {
	WorkTitle string `json:"workTitle"`
	Author    string `json:"author"`
	Limit     int    `json:"limit"`
}

func (h *handler) enrichEditions(w http.ResponseWriter, r *http.Request) {
	var req editionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, meta, err := h.orch.EnrichEditions(r.Context(), req.WorkTitle, req.Author, req.Limit)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.writeData(w, http.StatusOK, resp, meta)
}

type singleJobRequest struct {
	JobID  string `json:"jobId"`
	ISBN   string `json:"isbn"`
	Title  string `json:"title"`
	Author string `json:"author"`
}

func (h *handler) startSingle(w http.ResponseWriter, r *http.Request) {
	var req singleJobRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		h.error(w, r, apperr.New(apperr.MissingParameter, "jobId is required"))
		return
	}
	q := enrich.BookQuery{ISBN: req.ISBN, Title: req.Title, Author: req.Author}
	token, err := h.launcher.StartSingleEnrichment(r.Context(), h.orch, req.JobID, q)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.writeAccepted(w, req.JobID, token, 1)
}

type batchJobRequest struct {
	JobID string             `json:"jobId"`
	Books []enrich.BookQuery `json:"books"`
}

func (h *handler) startBatch(w http.ResponseWriter, r *http.Request) {
	var req batchJobRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		h.error(w, r, apperr.New(apperr.MissingParameter, "jobId is required"))
		return
	}
	token, err := h.launcher.StartBatchEnrichment(r.Context(), h.orch, req.JobID, req.Books)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.writeAccepted(w, req.JobID, token, len(req.Books))
}

type csvJobRequest struct {
	JobID string `json:"jobId"`
	CSV   string `json:"csv"`
}

func (h *handler) startCSV(w http.ResponseWriter, r *http.Request) {
	var req csvJobRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		h.error(w, r, apperr.New(apperr.MissingParameter, "jobId is required"))
		return
	}
	token, err := h.launcher.StartCSVImport(r.Context(), h.multimodal, h.cache, req.JobID, req.CSV)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.writeAccepted(w, req.JobID, token, 0)
}

type scanJobRequest struct {
	JobID  string   `json:"jobId"`
	Photos []string `json:"photos"`
}

func (h *handler) startScan(w http.ResponseWriter, r *http.Request) {
	var req scanJobRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		h.error(w, r, apperr.New(apperr.MissingParameter, "jobId is required"))
		return
	}
	token, err := h.launcher.StartBookshelfScan(r.Context(), h.multimodal, h.orch, req.JobID, req.Photos)
	if err != nil {
		h.error(w, r, err)
		return
	}
	h.writeAccepted(w, req.JobID, token, len(req.Photos))
}

// wsProgress implements the /ws/progress upgrade entry point from spec.md
// section 6: 426 without Upgrade, 400 without jobId, 401 on auth failure.
func (h *handler) wsProgress(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") == "" {
		w.WriteHeader(http.StatusUpgradeRequired)
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		h.error(w, r, apperr.New(apperr.MissingParameter, "jobId is required"))
		return
	}
	token := r.URL.Query().Get("token")

	if err := h.registry.Upgrade(r.Context(), w, r, jobID, token); err != nil {
		// AuthorizeUpgrade reports a token mismatch or expiry as
		// MISSING_PARAMETER; this endpoint answers those with 401.
		if apperr.CodeOf(err) == apperr.MissingParameter {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.error(w, r, err)
		return
	}
}
