package progress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/store"
)

// Registry is the actor-registry collaborator named in design note §9: one
// Actor instance per jobId, created lazily and surviving eviction by
// reloading persisted state.
type Registry struct {
	cfg   config.CoreConfig
	store store.Store
	clock config.Clock

	mu     sync.Mutex
	actors map[string]*Actor

	alarmMu sync.Mutex
	alarms  map[string]*time.Timer
}

// NewRegistry builds a Registry persisting state in st.
func NewRegistry(cfg config.CoreConfig, st store.Store, clock config.Clock) *Registry {
	return &Registry{
		cfg:    cfg,
		store:  st,
		clock:  clock,
		actors: map[string]*Actor{},
		alarms: map[string]*time.Timer{},
	}
}

// Create mints a brand-new pending job and returns its actor, matching
// "creates/locates the job's Progress Actor" (spec.md section 4.8 step 1).
func (r *Registry) Create(ctx context.Context, jobID string, pipeline catalog.Pipeline, totalCount int) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := newActor(jobID, r.cfg, r.store, r.clock, r)
	a.state = catalog.NewJobState(jobID, pipeline, totalCount, r.clock.Now())
	r.actors[jobID] = a
	_ = a.checkpointLocked(ctx, true)
	return a
}

// GetOrLoad returns the in-memory actor for jobID, or reconstructs one from
// persisted state (simulating re-instantiation after eviction), per spec.md
// section 4.7's "Checkpointing" subsection. Returns false if no state is
// persisted under jobID at all.
func (r *Registry) GetOrLoad(ctx context.Context, jobID string) (*Actor, bool) {
	r.mu.Lock()
	if a, ok := r.actors[jobID]; ok {
		r.mu.Unlock()
		return a, true
	}
	r.mu.Unlock()

	raw, err := r.store.Get(ctx, stateKey(jobID))
	if err == store.ErrNotFound {
		return nil, false
	}

	a := newActor(jobID, r.cfg, r.store, r.clock, r)
	if err != nil {
		logging.Log(ctx).Warn("progress actor state load failed", "jobId", jobID, "err", err)
		a.corrupted = true
		a.state = &catalog.JobState{JobID: jobID, Status: catalog.StatusFailed, Error: "State corruption detected"}
	} else {
		var js catalog.JobState
		if jsonErr := json.Unmarshal(raw, &js); jsonErr != nil {
			a.corrupted = true
			a.state = &catalog.JobState{JobID: jobID, Status: catalog.StatusFailed, Error: "State corruption detected"}
		} else {
			js.JobID = jobID
			if tok, tokErr := r.store.Get(ctx, tokenKey(jobID)); tokErr == nil {
				js.AuthToken = string(tok)
			}
			if expRaw, expErr := r.store.Get(ctx, tokenExpiryKey(jobID)); expErr == nil {
				_ = js.AuthTokenExpiresAt.UnmarshalText(expRaw)
			}
			a.state = &js
		}
	}

	r.mu.Lock()
	if existing, ok := r.actors[jobID]; ok {
		r.mu.Unlock()
		a.stop()
		return existing, true
	}
	r.actors[jobID] = a
	r.mu.Unlock()
	return a, true
}

// Upgrade implements the WebSocket upgrade entry point from spec.md section
// 4.7-A / 6: it validates jobId+token, accepts the socket, and starts the
// inbound read loop. w/r are expected to already have passed the external
// handler's "Upgrade: websocket" and "jobId present" checks (426/400).
func (r *Registry) Upgrade(ctx context.Context, w http.ResponseWriter, req *http.Request, jobID, token string) error {
	a, ok := r.GetOrLoad(ctx, jobID)
	if !ok {
		return apperr.New(apperr.NotFound, "unknown job")
	}
	if err := a.AuthorizeUpgrade(token); err != nil {
		return err
	}

	conn, err := Accept(w, req)
	if err != nil {
		return apperr.Wrap(apperr.InternalError, err)
	}
	a.attachConn(conn)
	go a.readLoop(conn)
	return nil
}

// readLoop consumes inbound frames for one connection until it errors or
// closes, dispatching recognized message types and ignoring the rest
// (spec.md section 4.7-B: "never crash the actor").
func (a *Actor) readLoop(conn Conn) {
	defer a.detachConn(conn)
	for {
		var msg inboundMessage
		if err := conn.ReadJSON(context.Background(), &msg); err != nil {
			return
		}
		switch msg.Type {
		case "ready":
			a.handleReady()
		default:
			logging.Log(context.Background()).Debug("progress actor ignoring unknown inbound message", "jobId", a.jobID, "type", msg.Type)
		}
	}
}

// scheduleCleanup arms (or re-arms, idempotently) the 24h post-terminal
// cleanup alarm for jobID (spec.md section 4.7 "Cleanup").
func (r *Registry) scheduleCleanup(jobID string, after time.Duration) {
	r.alarmMu.Lock()
	defer r.alarmMu.Unlock()
	if _, exists := r.alarms[jobID]; exists {
		return
	}
	if after <= 0 {
		after = 24 * time.Hour
	}
	r.alarms[jobID] = time.AfterFunc(after, func() { r.fireCleanup(jobID) })
}

func (r *Registry) fireCleanup(jobID string) {
	r.alarmMu.Lock()
	delete(r.alarms, jobID)
	r.alarmMu.Unlock()

	r.mu.Lock()
	a, ok := r.actors[jobID]
	r.mu.Unlock()
	if !ok {
		return
	}

	a.mu.Lock()
	terminal := a.state != nil && a.state.Status.Terminal()
	connected := a.conn != nil
	a.mu.Unlock()

	if !terminal || connected {
		return
	}

	ctx := context.Background()
	_ = r.store.Delete(ctx, stateKey(jobID))
	_ = r.store.Delete(ctx, tokenKey(jobID))
	_ = r.store.Delete(ctx, tokenExpiryKey(jobID))

	r.mu.Lock()
	delete(r.actors, jobID)
	r.mu.Unlock()
	a.stop()
}
