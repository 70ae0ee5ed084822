package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/stampede"

	"github.com/foliograph/foliograph/internal/apperr"
	"github.com/foliograph/foliograph/internal/logging"
)

// KeyFunc extracts the rate-limit key (typically the client IP) from a
// request. Left pluggable because the core does not own the router that
// terminates proxy headers (spec.md section 1, "HTTP router... out of
// scope").
type KeyFunc func(r *http.Request) string

// RemoteAddrKey is the default KeyFunc, using the connection's remote
// address. Deployments behind a proxy should supply a KeyFunc that reads
// the trusted forwarded-for header instead.
func RemoteAddrKey(r *http.Request) string {
	return r.RemoteAddr
}

// Middleware wraps next with the fixed-window rate limiter from spec.md
// section 4.6: a denial responds 429 with Retry-After/X-RateLimit-* headers
// and the structured RATE_LIMIT_EXCEEDED error; an allow decorates the
// response with X-RateLimit-Remaining and calls through. Substrate errors
// never reach here — Limiter.Allow already fails open.
func Middleware(l *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = RemoteAddrKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			decision := l.Allow(r.Context(), key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.RateMaxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfter := int(decision.ResetAt.Sub(l.clock.Now()).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				logging.Log(r.Context()).Warn("rate limit exceeded", "key", key)

				appErr := apperr.New(apperr.RateLimitExceeded, "too many requests").WithDetails(map[string]any{
					"retryAfter":     retryAfter,
					"requestsLimit":  l.cfg.RateMaxRequests,
				})
				w.WriteHeader(appErr.Status())
				fmt.Fprintf(w, `{"data":null,"error":{"code":%q,"message":%q,"details":{"retryAfter":%d,"requestsLimit":%d}}}`, appErr.Code, appErr.Message, retryAfter, l.cfg.RateMaxRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Chain assembles the exact middleware order SPEC_FULL.md section 4.6
// specifies, rate-limiting inserted immediately after RequestID so denials
// are still tagged with a request id in logs:
// stampede -> RequestSize -> RedirectSlashes -> request logger -> RequestID
// -> rate limit -> Recoverer.
func Chain(l *Limiter, keyFn KeyFunc) func(http.Handler) http.Handler {
	maxBody := l.cfg.CSVMaxBytes
	if maxBody <= 0 {
		maxBody = 1024
	}
	return func(next http.Handler) http.Handler {
		h := next
		h = middleware.Recoverer(h)
		h = Middleware(l, keyFn)(h)
		h = middleware.RequestID(h)
		h = requestLogger{}.wrap(h)
		h = middleware.RedirectSlashes(h)
		h = middleware.RequestSize(maxBody)(h)
		h = stampede.Handler(1024, 0)(h)
		return h
	}
}

// requestLogger logs one line per request at the teacher's log verbosity,
// mirroring main.go's requestlogger{}.Wrap(mux).
type requestLogger struct{}

func (requestLogger) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Log(r.Context()).Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
