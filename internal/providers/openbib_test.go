package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliograph/foliograph/internal/analytics"
)

func TestOpenBibSearchByISBNFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"work":{"key":"OL1W","title":"Dune","authors":[{"name":"Frank Herbert"}]}}`))
	}))
	defer srv.Close()

	c := NewOpenBibClient(srv.Client(), srv.URL, StaticSecret("key"), analytics.NopSink{})
	res := c.SearchByISBN(context.Background(), "9780441013593")

	require.True(t, res.Success)
	work, ok := res.RawPayload.(OpenBibWork)
	require.True(t, ok)
	assert.Equal(t, "Dune", work.Title)
}

func TestOpenBibSearchByISBNNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"work":null}`))
	}))
	defer srv.Close()

	c := NewOpenBibClient(srv.Client(), srv.URL, StaticSecret("key"), analytics.NopSink{})
	res := c.SearchByISBN(context.Background(), "0000000000000")

	assert.False(t, res.Success)
	assert.Equal(t, ErrNotFound, res.ErrorKind)
}

func TestOpenBibNoAPIKey(t *testing.T) {
	c := NewOpenBibClient(http.DefaultClient, "http://unused.invalid", nil, analytics.NopSink{})
	res := c.SearchByISBN(context.Background(), "9780441013593")

	assert.False(t, res.Success)
	assert.Equal(t, ErrNoAPIKey, res.ErrorKind)
}
