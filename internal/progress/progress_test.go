package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeConn is an in-memory Conn double: writes land in a slice, reads are
// driven by a channel the test feeds.
type fakeConn struct {
	mu      sync.Mutex
	written []Envelope
	inbound chan inboundMessage
	closed  string
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan inboundMessage, 8)}
}

func (c *fakeConn) WriteJSON(_ context.Context, v any) error {
	env, ok := v.(Envelope)
	if ok {
		c.mu.Lock()
		c.written = append(c.written, env)
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) ReadJSON(ctx context.Context, v any) error {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			return errClosed
		}
		*(v.(*inboundMessage)) = msg
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	c.closed = reason
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) messages() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.written))
	copy(out, c.written)
	return out
}

type closedErr struct{}

func (closedErr) Error() string { return "closed" }

var errClosed = closedErr{}

func newTestRegistry() (*Registry, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := config.Default()
	reg := NewRegistry(cfg, store.NewMemStore(clock), clock)
	return reg, clock
}

func TestReadyHandshake(t *testing.T) {
	reg, clock := newTestRegistry()
	ctx := context.Background()
	a := reg.Create(ctx, "job-1", catalog.PipelineBatchEnrichment, 10)

	conn := newFakeConn()
	a.attachConn(conn)
	go a.readLoop(conn)

	wr := a.WaitForReady(ctx, 50*time.Millisecond)
	assert.True(t, wr.TimedOut)

	conn.inbound <- inboundMessage{Type: "ready"}
	wr = a.WaitForReady(ctx, time.Second)
	assert.False(t, wr.TimedOut)
	assert.False(t, wr.Disconnected)

	require.Eventually(t, func() bool {
		for _, m := range conn.messages() {
			if m.Type == MessageReadyAck {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	_ = clock
}

func TestCompleteIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	a := reg.Create(ctx, "job-2", catalog.PipelineBatchEnrichment, 5)

	require.NoError(t, a.UpdateProgress(ctx, ProgressPayload{Progress: 0.5, ProcessedCount: 2, TotalCount: 5}))

	already, err := a.Complete(ctx, map[string]any{"books": []any{}})
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, catalog.StatusCompleted, a.GetJobState().Status)

	already, err = a.Complete(ctx, map[string]any{"books": []any{}})
	require.NoError(t, err)
	assert.True(t, already, "second complete is a no-op success")

	_, err = a.SendError(ctx, ErrorPayload{Code: "X", Message: "boom"})
	assert.ErrorContains(t, err, "already in a terminal state", "different terminal request fails")
}

func TestTokenRefreshBoundary(t *testing.T) {
	reg, clock := newTestRegistry()
	ctx := context.Background()
	a := reg.Create(ctx, "job-3", catalog.PipelineSingleEnrichment, 1)
	require.NoError(t, a.SetAuthToken(ctx, "tok-1", 2*time.Hour))

	clock.advance(90 * time.Minute)
	newTok, ttl, err := a.RefreshToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.NotEmpty(t, newTok)
	assert.Equal(t, 2*time.Hour, ttl)

	clock.advance(30 * time.Minute)
	_, _, err = a.RefreshToken(ctx, newTok)
	assert.ErrorContains(t, err, "More than 30 minutes remain")

	_, _, err = a.RefreshToken(ctx, "wrong-token")
	assert.ErrorContains(t, err, "Invalid token")

	clock.advance(3 * time.Hour)
	_, _, err = a.RefreshToken(ctx, newTok)
	assert.ErrorContains(t, err, "Token expired")
}

func TestAuthorizeUpgradeRejectsMismatchAndExpiry(t *testing.T) {
	reg, clock := newTestRegistry()
	ctx := context.Background()
	a := reg.Create(ctx, "job-4", catalog.PipelineSingleEnrichment, 1)
	require.NoError(t, a.SetAuthToken(ctx, "tok", time.Hour))

	assert.NoError(t, a.AuthorizeUpgrade("tok"))
	assert.Error(t, a.AuthorizeUpgrade("wrong"))

	clock.advance(2 * time.Hour)
	assert.Error(t, a.AuthorizeUpgrade("tok"))
}

func TestEvictionReloadsPersistedState(t *testing.T) {
	reg, clock := newTestRegistry()
	ctx := context.Background()
	a := reg.Create(ctx, "job-5", catalog.PipelineBatchEnrichment, 20)
	// Let the checkpoint interval elapse so the update below is persisted.
	clock.advance(11 * time.Second)
	require.NoError(t, a.UpdateProgress(ctx, ProgressPayload{Progress: 0.4, ProcessedCount: 8, TotalCount: 20}))

	// Simulate eviction: drop the in-memory actor, force a reload.
	reg.mu.Lock()
	delete(reg.actors, "job-5")
	reg.mu.Unlock()

	reloaded, ok := reg.GetOrLoad(ctx, "job-5")
	require.True(t, ok)
	js := reloaded.GetJobState()
	assert.Equal(t, 0.4, js.Progress)
	assert.Equal(t, 8, js.ProcessedCount)
	assert.Equal(t, catalog.StatusRunning, js.Status)
}

func TestCorruptedStatePresentsFailedNeverGuesses(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := config.Default()
	st := store.NewMemStore(clock)
	require.NoError(t, st.Put(context.Background(), "job:bad:state", []byte("{not json"), 1000))
	reg := NewRegistry(cfg, st, clock)

	a, ok := reg.GetOrLoad(context.Background(), "bad")
	require.True(t, ok)
	js := a.GetJobState()
	assert.Equal(t, catalog.StatusFailed, js.Status)
	assert.Equal(t, "State corruption detected", js.Error)
}

func TestUpdatePhotoVersionConflict(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	a := reg.Create(ctx, "job-6", catalog.PipelineBookshelfScan, 0)
	require.NoError(t, a.InitBatch(ctx, 3))

	v := a.GetJobState().Version
	require.NoError(t, a.UpdatePhoto(ctx, 0, "completed", 2, v))

	err := a.UpdatePhoto(ctx, 0, "completed", 2, v)
	assert.ErrorIs(t, err, apperr.New(apperr.VersionConflict, ""))
}

func TestSupersedingUpgradeClosesPriorConnection(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()
	a := reg.Create(ctx, "job-7", catalog.PipelineSingleEnrichment, 1)

	first := newFakeConn()
	a.attachConn(first)
	second := newFakeConn()
	a.attachConn(second)

	require.Eventually(t, func() bool {
		first.mu.Lock()
		defer first.mu.Unlock()
		return first.closed == "Superseded"
	}, time.Second, time.Millisecond)
}
