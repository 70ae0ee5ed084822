package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestMemStorePutGetExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewMemStore(clock)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "isbn:9780439708180", []byte("payload"), 10))

	v, err := s.Get(ctx, "isbn:9780439708180")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), v)

	clock.now = clock.now.Add(11 * time.Second)
	_, err = s.Get(ctx, "isbn:9780439708180")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStoreDeleteByPrefix(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewMemStore(clock)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "job:1:state", []byte("a"), 100))
	require.NoError(t, s.Put(ctx, "job:1:token", []byte("b"), 100))
	require.NoError(t, s.Put(ctx, "job:2:state", []byte("c"), 100))

	require.NoError(t, s.DeleteByPrefix(ctx, "job:1:"))

	_, err := s.Get(ctx, "job:1:state")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "job:2:state")
	assert.NoError(t, err)
}

func TestMemStoreScan(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	s := NewMemStore(clock)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "isbn:aaa", []byte("1"), 100))
	require.NoError(t, s.Put(ctx, "isbn:bbb", []byte("2"), 100))
	require.NoError(t, s.Put(ctx, "title:ccc", []byte("3"), 100))

	got, err := s.Scan(ctx, "isbn:%")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "isbn:aaa")
}
