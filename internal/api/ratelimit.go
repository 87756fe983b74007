package api

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/tokengate/tokengate/internal/gate"
	"github.com/tokengate/tokengate/internal/ratelimit"
)

// RejectFunc writes the response for a rejected request.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

// setRateLimitHeaders adds the IETF draft RateLimit-Limit/Remaining headers,
// and Retry-After on rejection.
func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		w.Header().Set("Retry-After", strconv.FormatInt(res.RetryAfter(), 10))
	}
}

// clientKey identifies the caller for rate limiting. chi's RealIP has
// already replaced RemoteAddr with X-Real-IP / X-Forwarded-For when present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit returns a middleware that limits requests per client IP using l.
// Rejected requests are handed to reject with gate.ErrRateLimited. Preflight
// requests are not counted. If the limiter itself fails the request is let
// through and a warning logged.
func RateLimit(l ratelimit.Limiter, reject RejectFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			res, err := l.Allow(r.Context(), clientKey(r))
			if err != nil {
				slog.WarnContext(r.Context(), "rate limiter unavailable, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, res)
			if !res.Allowed {
				reject(w, r, gate.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
