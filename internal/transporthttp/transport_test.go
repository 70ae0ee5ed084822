package transporthttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliograph/foliograph/internal/apperr"
)

func TestErrorProxyTransportClassifies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewErrorProxyTransport(http.DefaultTransport)}
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.Equal(t, apperr.ProviderError, apperr.CodeOf(err))
	assert.True(t, apperr.IsRetryable(err))
}

func TestScopedTransportPinsHost(t *testing.T) {
	var gotHost string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := http.NewRequest(http.MethodGet, "http://attacker.example/path", nil)
	require.NoError(t, err)

	scoped := &ScopedTransport{Scheme: "http", Host: srv.Listener.Addr().String(), Next: http.DefaultTransport}
	client := &http.Client{Transport: scoped}
	resp, err := client.Do(u)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, srv.Listener.Addr().String(), gotHost)
}

func TestHeaderTransportInjects(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set("Authorization", "secret-key")
	client := &http.Client{Transport: &HeaderTransport{Headers: h, Next: http.DefaultTransport}}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "secret-key", gotAuth)
}
