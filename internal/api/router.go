// Package api wires the tokengated HTTP surface: the credential gate at
// /v1/token, token introspection and revocation, and health probes.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tokengate/tokengate/internal/ratelimit"
	"github.com/tokengate/tokengate/internal/token"
)

// TokenPath is where the gate is mounted.
const TokenPath = "/v1/token"

// Gate is the credential-issuance handler. *gate.Gate implements it.
type Gate interface {
	http.Handler
	// Reject writes a failure envelope for err carrying the gate's CORS headers.
	Reject(w http.ResponseWriter, r *http.Request, err error)
}

// TokenVerifier backs the introspection and revocation endpoints.
// *token.Verifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*token.Claims, error)
	Revoke(ctx context.Context, raw string) (*token.Claims, error)
	CanRevoke() bool
}

// Server holds dependencies for all HTTP handlers.
type Server struct {
	Gate        Gate
	Verifier    TokenVerifier     // Nil leaves /v1/token/verify and /v1/token/revoke unmounted.
	Limiter     ratelimit.Limiter // Per-client limit on the gate. Nil disables rate limiting.
	CORSOrigins []string          // Origins for the auxiliary routes. Empty means "*".
	Health      []HealthChecker   // Dependencies probed by /health/ready.
}

// NewRouter creates a configured chi router with all routes mounted.
//
// The gate is mounted with Handle rather than Post so that every method
// reaches it and gets the gate's own 405 envelope and CORS headers. The
// go-chi/cors middleware only wraps the auxiliary routes; it would answer
// the gate's preflight itself and skip headers on requests without Origin.
func NewRouter(srv *Server) chi.Router {
	r := chi.NewRouter()

	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	if srv.Gate != nil {
		var gateHandler http.Handler = srv.Gate
		if srv.Limiter != nil {
			gateHandler = RateLimit(srv.Limiter, srv.Gate.Reject)(gateHandler)
		}
		r.Handle(TokenPath, gateHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(cors.Handler(corsOptions(srv.CORSOrigins)))

		r.Get("/health", srv.HandleHealth)
		r.Get("/health/live", srv.HandleHealthLive)
		r.Get("/health/ready", srv.HandleHealthReady)

		if srv.Verifier != nil {
			r.Post(TokenPath+"/verify", srv.HandleVerify)
			r.Post(TokenPath+"/revoke", srv.HandleRevoke)
			// Group middleware only runs for routed methods, so preflight
			// needs a route for cors.Handler to answer.
			r.Options(TokenPath+"/verify", noContent)
			r.Options(TokenPath+"/revoke", noContent)
		}
	})

	return r
}

func corsOptions(origins []string) cors.Options {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}
	// Bearer tokens travel in a header, not a cookie, so credentials stay off
	// and a literal "*" is valid.
	if len(origins) == 0 || slices.Contains(origins, "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
	}
	return opts
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// errorJSON writes the {"error": "..."} envelope shared with the gate.
func errorJSON(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
