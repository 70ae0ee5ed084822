package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestCheckAndIncrementExactnessUnderConcurrency(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := config.Default()
	l := New(cfg, store.NewMemStore(clock), clock)

	const n = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted int
	var resets = map[int64]bool{}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.CheckAndIncrement(context.Background(), "1.2.3.4")
			require.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if d.Allowed {
				admitted++
			}
			resets[d.ResetAt.Unix()] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, cfg.RateMaxRequests, admitted)
	assert.Len(t, resets, 1, "all denials/admits in one window share a reset time")
}

func TestCheckAndIncrementWindowReset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := config.Default()
	cfg.RateMaxRequests = 2
	l := New(cfg, store.NewMemStore(clock), clock)
	ctx := context.Background()

	d, err := l.CheckAndIncrement(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, err = l.CheckAndIncrement(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.CheckAndIncrement(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "third request within window is denied")
	assert.Equal(t, 0, d.Remaining)

	clock.advance(cfg.RateWindow + time.Second)
	d, err = l.CheckAndIncrement(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "new window admits again")
}

type erroringStore struct{ store.Store }

func (erroringStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, assertErr
}

var assertErr = assertError{}

type assertError struct{}

func (assertError) Error() string { return "substrate unavailable" }

func TestAllowFailsOpenOnSubstrateError(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cfg := config.Default()
	l := New(cfg, erroringStore{}, clock)

	d := l.Allow(context.Background(), "k")
	assert.True(t, d.Allowed, "substrate errors fail open")
}
