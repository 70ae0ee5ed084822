package catalog

import (
	"time"

	"github.com/foliograph/foliograph/internal/apperr"
)

// Pipeline identifies which job driver owns a JobState.
type Pipeline string

const (
	PipelineSingleEnrichment Pipeline = "single_enrichment"
	PipelineBatchEnrichment  Pipeline = "batch_enrichment"
	PipelineCSVImport        Pipeline = "csv_import"
	PipelineBookshelfScan    Pipeline = "bookshelf_scan"
)

// Status is a JobState's lifecycle position.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates the state machine from spec.md section 4.7.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to Status) bool {
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// JobState is the full persisted record a Progress Actor owns.
type JobState struct {
	JobID                  string         `json:"jobId"`
	Pipeline               Pipeline       `json:"pipeline"`
	Status                 Status         `json:"status"`
	Progress               float64        `json:"progress"`
	ProcessedCount         int            `json:"processedCount"`
	TotalCount             int            `json:"totalCount"`
	Version                int64          `json:"version"`
	CreatedAt              time.Time      `json:"createdAt"`
	LastUpdateAt           time.Time      `json:"lastUpdateAt"`
	CompletedAt            *time.Time     `json:"completedAt,omitempty"`
	Error                  string         `json:"error,omitempty"`
	PipelineState          map[string]any `json:"pipelineState,omitempty"`
	AuthToken              string         `json:"-"`
	AuthTokenExpiresAt     time.Time      `json:"-"`
	Cancelled              bool           `json:"cancelled"`
	UpdatesSinceCheckpoint int            `json:"-"`
}

// NewJobState constructs a fresh pending JobState for the given pipeline.
func NewJobState(jobID string, pipeline Pipeline, totalCount int, now time.Time) *JobState {
	return &JobState{
		JobID:        jobID,
		Pipeline:     pipeline,
		Status:       StatusPending,
		TotalCount:   totalCount,
		CreatedAt:    now,
		LastUpdateAt: now,
	}
}

// Transition moves js to 'to', validating against the legal transition table
// and the idempotent-terminal rule from spec.md section 4.7.
//
// alreadyX reports whether this call was a no-op because js was already in
// the requested terminal state.
func (js *JobState) Transition(to Status, now time.Time) (alreadyX bool, err error) {
	if js.Status == to && js.Status.Terminal() {
		return true, nil
	}
	if js.Status.Terminal() {
		return false, apperr.New(apperr.InvalidTransition, "job already in a terminal state")
	}
	if !CanTransition(js.Status, to) {
		return false, apperr.New(apperr.InvalidTransition, "illegal transition "+string(js.Status)+"->"+string(to))
	}
	js.Status = to
	js.LastUpdateAt = now
	js.Version++
	js.UpdatesSinceCheckpoint++
	if to.Terminal() {
		js.CompletedAt = &now
	}
	return false, nil
}

// RecordProgress applies a monotonic progress/processedCount update. It
// refuses to move progress backwards while running, per the invariant in
// spec.md section 3.
func (js *JobState) RecordProgress(progress float64, processedCount int, now time.Time) error {
	if js.Status.Terminal() {
		return apperr.New(apperr.InvalidTransition, "job is already terminal")
	}
	if progress < js.Progress {
		progress = js.Progress
	}
	if processedCount > js.TotalCount {
		processedCount = js.TotalCount
	}
	js.Progress = progress
	js.ProcessedCount = processedCount
	js.LastUpdateAt = now
	js.Version++
	js.UpdatesSinceCheckpoint++
	return nil
}

// DueForCheckpoint reports whether N accepted mutations or T seconds have
// elapsed since the last checkpoint, per spec.md section 4.7.
func (js *JobState) DueForCheckpoint(n int, interval time.Duration, lastCheckpoint time.Time, now time.Time) bool {
	if js.Status.Terminal() {
		return true
	}
	if js.UpdatesSinceCheckpoint >= n {
		return true
	}
	return now.Sub(lastCheckpoint) >= interval
}
