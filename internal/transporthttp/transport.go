// Package transporthttp provides the composable http.RoundTripper chain
// every provider client is built from: host scoping, outbound rate limiting,
// header injection, and upstream-error translation. Adapted from the
// teacher's internal/transport.go, generalized from one provider to the
// four in SPEC_FULL.md section 4.2.
package transporthttp

import (
	"fmt"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/foliograph/foliograph/internal/apperr"
)

// ScopedTransport pins every request to a single scheme+host, ignoring
// whatever the caller passed in the request URL's authority. This prevents a
// misbehaving redirect or a copy-pasted absolute URL from ever escaping the
// intended provider host.
type ScopedTransport struct {
	Scheme string
	Host   string
	Next   http.RoundTripper
}

func (t *ScopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = t.Scheme
	clone.URL.Host = t.Host
	clone.Host = t.Host
	return t.next().RoundTrip(clone)
}

func (t *ScopedTransport) next() http.RoundTripper {
	if t.Next != nil {
		return t.Next
	}
	return http.DefaultTransport
}

// throttledTransport gates outbound requests through a token-bucket limiter
// shared across all requests to one provider.
type throttledTransport struct {
	limiter *rate.Limiter
	next    http.RoundTripper
}

// NewThrottledTransport builds a RoundTripper admitting at most rps requests
// per second (burst equal to rps, minimum 1), wrapping next.
func NewThrottledTransport(rps float64, next http.RoundTripper) http.RoundTripper {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &throttledTransport{limiter: rate.NewLimiter(rate.Limit(rps), burst), next: next}
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// HeaderTransport injects a fixed set of headers (typically an API key) into
// every outbound request.
type HeaderTransport struct {
	Headers http.Header
	Next    http.RoundTripper
}

func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, vs := range t.Headers {
		for _, v := range vs {
			clone.Header.Add(k, v)
		}
	}
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}
	return next.RoundTrip(clone)
}

// errorProxyTransport translates non-2xx upstream responses into an
// *apperr.Error carrying the provider's error classification, instead of
// letting callers reimplement status-code switches at every call site.
type errorProxyTransport struct {
	next http.RoundTripper
}

// NewErrorProxyTransport wraps next so 4xx/5xx responses surface as
// classified *apperr.Error values rather than being returned verbatim.
func NewErrorProxyTransport(next http.RoundTripper) http.RoundTripper {
	return &errorProxyTransport{next: next}
}

func (t *errorProxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}

	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return nil, apperr.New(apperr.ProviderError, "bad auth").WithDetails(map[string]any{"kind": "BadAuth", "status": resp.StatusCode})
	case http.StatusTooManyRequests:
		retryAfter := resp.Header.Get("Retry-After")
		return nil, apperr.New(apperr.ProviderError, "rate limited").
			WithRetryable(true).
			WithDetails(map[string]any{"kind": "RateLimited", "status": resp.StatusCode, "retryAfter": retryAfter})
	case http.StatusNotFound:
		return nil, apperr.New(apperr.ProviderError, "not found").WithDetails(map[string]any{"kind": "NotFound", "status": resp.StatusCode})
	default:
		if resp.StatusCode >= 500 {
			return nil, apperr.New(apperr.ProviderError, fmt.Sprintf("upstream status %d", resp.StatusCode)).
				WithRetryable(true).
				WithDetails(map[string]any{"kind": "ProviderError", "status": resp.StatusCode})
		}
		return nil, apperr.New(apperr.ProviderError, fmt.Sprintf("upstream status %d", resp.StatusCode)).
			WithDetails(map[string]any{"kind": "ProviderError", "status": resp.StatusCode})
	}
}

// Build assembles the full chain. A request passes headers (installed only
// when headers is non-empty) -> scope -> throttle -> error-translate, then
// http.DefaultTransport.
func Build(scheme, host string, rps float64, headers http.Header) http.RoundTripper {
	var rt http.RoundTripper = http.DefaultTransport
	rt = NewErrorProxyTransport(rt)
	rt = NewThrottledTransport(rps, rt)
	rt = &ScopedTransport{Scheme: scheme, Host: host, Next: rt}
	if len(headers) > 0 {
		rt = &HeaderTransport{Headers: headers, Next: rt}
	}
	return rt
}
