// Package progress implements the Progress Actor (C7): one instance per
// jobId, owning at most one WebSocket, the JobState, the ready-handshake
// future, and a cleanup alarm. Grounded on the teacher's single-writer
// mutex discipline in internal/controller.go, generalized from a cache
// controller to a per-job actor registry.
package progress

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/store"
)

// WaitResult is the outcome of WaitForReady.
type WaitResult struct {
	TimedOut     bool
	Disconnected bool
}

// Actor is the C7 single-writer state holder for one job. Every exported
// method serializes through mu, matching spec.md section 5's "RPC methods
// execute sequentially in arrival order" guarantee.
type Actor struct {
	jobID string
	cfg   config.CoreConfig
	store store.Store
	clock config.Clock

	mu             sync.Mutex
	state          *catalog.JobState
	corrupted      bool
	conn           Conn
	isReady        bool
	readyCh        chan struct{}
	dropCh         chan struct{}
	lastCheckpoint time.Time

	outbox    chan Envelope
	closeOnce sync.Once
	stopCh    chan struct{}

	registry *Registry
}

func newActor(jobID string, cfg config.CoreConfig, st store.Store, clock config.Clock, reg *Registry) *Actor {
	a := &Actor{
		jobID:    jobID,
		cfg:      cfg,
		store:    st,
		clock:    clock,
		outbox:   make(chan Envelope, 256),
		stopCh:   make(chan struct{}),
		registry: reg,
	}
	go a.runSender()
	return a
}

func (a *Actor) runSender() {
	for {
		select {
		case env := <-a.outbox:
			a.mu.Lock()
			conn := a.conn
			a.mu.Unlock()
			if conn == nil {
				// Socket absent: drop, per spec.md section 4.7 ("the next
				// getJobState call reveals current state").
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), acceptTimeout)
			_ = conn.WriteJSON(ctx, env)
			cancel()
		case <-a.stopCh:
			return
		}
	}
}

// stop tears down the actor's background sender goroutine. Called only by
// the Registry during explicit teardown (tests); production actors live for
// the process lifetime.
func (a *Actor) stop() {
	a.closeOnce.Do(func() { close(a.stopCh) })
}

// send enqueues env for delivery in FIFO order, per spec.md section 5's
// WebSocket outbound ordering guarantee.
func (a *Actor) send(env Envelope) {
	select {
	case a.outbox <- env:
	default:
		// Outbox saturated: drop this message rather than block the
		// caller's RPC goroutine indefinitely.
		logging.Log(context.Background()).Warn("progress actor outbox full, dropping message", "jobId", a.jobID)
	}
}

// JobID returns the id this actor owns.
func (a *Actor) JobID() string { return a.jobID }

// GetJobState returns a snapshot of the actor's current state.
func (a *Actor) GetJobState() catalog.JobState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Actor) snapshotLocked() catalog.JobState {
	if a.corrupted {
		return catalog.JobState{JobID: a.jobID, Status: catalog.StatusFailed, Error: "State corruption detected"}
	}
	return *a.state
}

// SetAuthToken mints/replaces the job's capability token. ttl defaults to
// config.CoreConfig.TokenLifetime when zero.
func (a *Actor) SetAuthToken(ctx context.Context, token string, ttl time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.corrupted {
		return apperr.New(apperr.InternalError, "state corruption detected")
	}
	if ttl <= 0 {
		ttl = a.cfg.TokenLifetime
	}
	a.state.AuthToken = token
	a.state.AuthTokenExpiresAt = a.clock.Now().Add(ttl)
	return a.checkpointLocked(ctx, true)
}

// AuthorizeUpgrade validates a WebSocket upgrade attempt's token, per
// spec.md section 4.7-A.
func (a *Actor) AuthorizeUpgrade(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.corrupted {
		return apperr.New(apperr.InternalError, "state corruption detected")
	}
	if token == "" || token != a.state.AuthToken {
		return apperr.New(apperr.MissingParameter, "token mismatch")
	}
	if a.clock.Now().After(a.state.AuthTokenExpiresAt) {
		return apperr.New(apperr.MissingParameter, "token expired")
	}
	return nil
}

// RefreshToken mints a new token, only within the last
// TokenRefreshWindow of the current token's life (spec.md section 4.7).
func (a *Actor) RefreshToken(ctx context.Context, oldToken string) (string, time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if oldToken != a.state.AuthToken {
		return "", 0, apperr.New(apperr.MissingParameter, "Invalid token")
	}
	now := a.clock.Now()
	if now.After(a.state.AuthTokenExpiresAt) {
		return "", 0, apperr.New(apperr.MissingParameter, "Token expired")
	}
	remaining := a.state.AuthTokenExpiresAt.Sub(now)
	if remaining > a.cfg.TokenRefreshWindow {
		return "", 0, apperr.New(apperr.MissingParameter, "More than 30 minutes remain")
	}

	newToken := generateToken()
	a.state.AuthToken = newToken
	a.state.AuthTokenExpiresAt = now.Add(a.cfg.TokenLifetime)
	if err := a.checkpointLocked(ctx, true); err != nil {
		return "", 0, err
	}
	return newToken, a.cfg.TokenLifetime, nil
}

func generateToken() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// GenerateToken mints a new opaque capability token, exported for job
// pipelines to call before the first SetAuthToken (spec.md section 4.8 step
// 2: "Pipelines mint a token and call setAuthToken").
func GenerateToken() string { return generateToken() }

// attachConn installs conn as the actor's live WebSocket, superseding and
// closing any prior connection with code 1000 reason "Superseded" (spec.md
// section 5). It initializes a fresh ready handshake unless the job is
// already ready.
func (a *Actor) attachConn(conn Conn) {
	a.mu.Lock()
	prior := a.conn
	a.conn = conn
	if !a.isReady {
		a.readyCh = make(chan struct{})
	}
	a.dropCh = make(chan struct{})
	drop := a.dropCh
	a.mu.Unlock()

	if prior != nil {
		go func() { _ = prior.Close("Superseded") }()
	}
	_ = drop
}

// detachConn clears conn if it is still the actor's current connection and
// signals any in-flight WaitForReady of the disconnect.
func (a *Actor) detachConn(conn Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != conn {
		return
	}
	a.conn = nil
	if a.dropCh != nil {
		select {
		case <-a.dropCh:
		default:
			close(a.dropCh)
		}
	}
}

// handleReady processes an inbound {"type":"ready"} frame: resolves the
// ready promise and sends ready_ack.
func (a *Actor) handleReady() {
	a.mu.Lock()
	if !a.isReady {
		a.isReady = true
		if a.readyCh != nil {
			select {
			case <-a.readyCh:
			default:
				close(a.readyCh)
			}
		}
	}
	pipeline := catalog.Pipeline("")
	if a.state != nil {
		pipeline = a.state.Pipeline
	}
	a.mu.Unlock()
	a.send(newEnvelope(a.jobID, pipeline, MessageReadyAck, a.clock.Now(), nil))
}

// WaitForReady blocks until the client sends "ready", the timeout elapses,
// or the connection drops, per spec.md section 4.7-C.
func (a *Actor) WaitForReady(ctx context.Context, timeout time.Duration) WaitResult {
	a.mu.Lock()
	if a.isReady {
		a.mu.Unlock()
		return WaitResult{}
	}
	ready := a.readyCh
	drop := a.dropCh
	a.mu.Unlock()

	if ready == nil {
		// No connection has ever attached; treat as an immediate timeout
		// rather than blocking forever.
		return WaitResult{TimedOut: true}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return WaitResult{}
	case <-drop:
		return WaitResult{Disconnected: true}
	case <-timer.C:
		return WaitResult{TimedOut: true}
	case <-ctx.Done():
		return WaitResult{TimedOut: true}
	}
}

// CloseConnection closes the attached WebSocket, if any, with reason.
func (a *Actor) CloseConnection(reason string) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close(reason)
	}
}

// UpdateProgress records a monotonic progress update and emits a "progress"
// event, per spec.md section 4.7/4.8.
func (a *Actor) UpdateProgress(ctx context.Context, payload ProgressPayload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.corrupted {
		return apperr.New(apperr.InternalError, "state corruption detected")
	}
	if a.state.Status == catalog.StatusPending {
		if _, err := a.state.Transition(catalog.StatusRunning, a.clock.Now()); err != nil {
			return err
		}
	}
	if err := a.state.RecordProgress(payload.Progress, payload.ProcessedCount, a.clock.Now()); err != nil {
		return err
	}
	pipeline := a.state.Pipeline
	if err := a.checkpointLocked(ctx, false); err != nil {
		logging.Log(ctx).Warn("checkpoint failed, state kept in memory", "jobId", a.jobID, "err", err)
	}
	a.send(newEnvelope(a.jobID, pipeline, MessageProgress, a.clock.Now(), payload))
	return nil
}

// Complete transitions the job to completed, idempotently, and emits the
// terminal "complete" event.
func (a *Actor) Complete(ctx context.Context, payload any) (alreadyCompleted bool, err error) {
	return a.terminal(ctx, catalog.StatusCompleted, MessageComplete, payload, "")
}

// SendError transitions the job to failed, idempotently, and emits the
// terminal "error" event. A job that is still pending passes through
// running first, since pending -> failed is not a legal transition.
func (a *Actor) SendError(ctx context.Context, payload ErrorPayload) (alreadyFailed bool, err error) {
	a.mu.Lock()
	if a.state != nil {
		if a.state.Status == catalog.StatusPending && !a.corrupted {
			_, _ = a.state.Transition(catalog.StatusRunning, a.clock.Now())
		}
		a.state.Error = payload.Message
	}
	a.mu.Unlock()
	return a.terminal(ctx, catalog.StatusFailed, MessageError, payload, payload.Message)
}

// Cancel transitions the job to cancelled, idempotently, and sets
// JobState.Cancelled. bookshelf_scan checks that flag before each photo and
// batch_enrichment before and after its whole batch; single_enrichment and
// csv_import do not check it, and their later Complete/SendError calls fail
// with INVALID_TRANSITION.
func (a *Actor) Cancel(ctx context.Context) (alreadyCancelled bool, err error) {
	a.mu.Lock()
	a.state.Cancelled = true
	a.mu.Unlock()
	return a.terminal(ctx, catalog.StatusCancelled, MessageComplete, map[string]any{"cancelled": true}, "")
}

func (a *Actor) terminal(ctx context.Context, to catalog.Status, msgType MessageType, payload any, errMsg string) (bool, error) {
	a.mu.Lock()
	if a.corrupted {
		a.mu.Unlock()
		return false, apperr.New(apperr.InternalError, "state corruption detected")
	}
	alreadyX, err := a.state.Transition(to, a.clock.Now())
	if err != nil {
		a.mu.Unlock()
		return false, err
	}
	if errMsg != "" {
		a.state.Error = errMsg
	}
	pipeline := a.state.Pipeline
	_ = a.checkpointLocked(ctx, true)
	a.mu.Unlock()

	if !alreadyX {
		a.send(newEnvelope(a.jobID, pipeline, msgType, a.clock.Now(), payload))
		a.scheduleCleanup()
	}
	return alreadyX, nil
}

func (a *Actor) scheduleCleanup() {
	if a.registry != nil {
		a.registry.scheduleCleanup(a.jobID, a.cfg.CleanupAfterTerminal)
	}
}

// InitBatch seeds the bookshelf_scan pipeline's per-photo status array in
// PipelineState (spec.md section 4.8).
func (a *Actor) InitBatch(ctx context.Context, totalPhotos int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.corrupted {
		return apperr.New(apperr.InternalError, "state corruption detected")
	}
	photos := make([]photoStatus, totalPhotos)
	for i := range photos {
		photos[i] = photoStatus{Status: "pending"}
	}
	a.state.TotalCount = totalPhotos
	if a.state.PipelineState == nil {
		a.state.PipelineState = map[string]any{}
	}
	a.state.PipelineState["photos"] = photos
	a.state.Version++
	a.state.UpdatesSinceCheckpoint++
	return a.checkpointLocked(ctx, false)
}

type photoStatus struct {
	Status     string `json:"status"`
	BooksFound int    `json:"booksFound,omitempty"`
}

// photosLocked decodes PipelineState["photos"] into []photoStatus
// regardless of whether it is still the concrete slice this process wrote
// (fresh actor) or the []interface{} shape json.Unmarshal produces after a
// reload from persisted state (evicted actor). Caller must hold mu.
func (a *Actor) photosLocked() []photoStatus {
	raw, ok := a.state.PipelineState["photos"]
	if !ok {
		return nil
	}
	if photos, ok := raw.([]photoStatus); ok {
		return photos
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var photos []photoStatus
	if err := json.Unmarshal(buf, &photos); err != nil {
		return nil
	}
	return photos
}

// UpdatePhoto records one photo's scan outcome. expectedVersion implements
// the optimistic-concurrency check from spec.md section 4.8: the same index
// updated twice with the same version fails VersionConflict.
func (a *Actor) UpdatePhoto(ctx context.Context, index int, status string, booksFound int, expectedVersion int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.corrupted {
		return apperr.New(apperr.InternalError, "state corruption detected")
	}
	if expectedVersion != 0 && expectedVersion != a.state.Version {
		return apperr.New(apperr.VersionConflict, "photo already updated at this version")
	}
	photos := a.photosLocked()
	if index < 0 || index >= len(photos) {
		return apperr.New(apperr.InvalidTransition, "photo index out of range")
	}
	photos[index] = photoStatus{Status: status, BooksFound: booksFound}
	a.state.PipelineState["photos"] = photos
	a.state.Version++
	a.state.UpdatesSinceCheckpoint++
	return a.checkpointLocked(ctx, false)
}

// checkpointLocked persists state when due (every N updates, every T
// seconds, or immediately when force is true — e.g. on a terminal
// transition), per spec.md section 4.7. Caller must hold mu.
func (a *Actor) checkpointLocked(ctx context.Context, force bool) error {
	if !force && !a.state.DueForCheckpoint(a.cfg.CheckpointEveryNUpdates, a.cfg.CheckpointEverySeconds, a.lastCheckpoint, a.clock.Now()) {
		return nil
	}
	payload, err := json.Marshal(a.state)
	if err != nil {
		return err
	}
	ttl := int(a.cfg.CleanupAfterTerminal.Seconds())
	if ttl <= 0 {
		ttl = int((24 * time.Hour).Seconds())
	}
	if err := a.store.Put(ctx, stateKey(a.jobID), payload, ttl); err != nil {
		return err
	}
	if a.state.AuthToken != "" {
		_ = a.store.Put(ctx, tokenKey(a.jobID), []byte(a.state.AuthToken), ttl)
		expBytes, _ := a.state.AuthTokenExpiresAt.MarshalText()
		_ = a.store.Put(ctx, tokenExpiryKey(a.jobID), expBytes, ttl)
	}
	a.state.UpdatesSinceCheckpoint = 0
	a.lastCheckpoint = a.clock.Now()
	return nil
}

func stateKey(jobID string) string       { return "job:" + jobID + ":state" }
func tokenKey(jobID string) string       { return "job:" + jobID + ":token" }
func tokenExpiryKey(jobID string) string { return "job:" + jobID + ":tokenExpiration" }
