// Package auth lets services downstream of tokengated accept the bearer
// tokens it issues. RequireToken verifies the token locally with the shared
// signing key and puts the claims on the request context.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tokengate/tokengate/internal/token"
)

// Verifier checks a raw bearer token. *token.Verifier implements it.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*token.Claims, error)
}

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by RequireToken, or nil when the
// request was not authenticated.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	c, _ := ctx.Value(claimsKey{}).(*token.Claims)
	return c
}

// RequireToken returns a middleware that rejects requests without a valid
// "Authorization: Bearer <token>" header. GET /health is always exempt.
func RequireToken(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet && r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			raw := ExtractBearerToken(r)
			if raw == "" {
				Unauthorized(w, "missing or invalid Authorization header")
				return
			}

			claims, err := v.Verify(r.Context(), raw)
			if err != nil {
				WriteVerifyError(w, r, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// ExtractBearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func ExtractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

// WriteVerifyError maps a Verify error to a JSON response. Token problems are
// 401; a missing signing key or a failing denylist is a server fault.
func WriteVerifyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrExpiredToken):
		Unauthorized(w, "token expired")
	case errors.Is(err, token.ErrRevokedToken):
		Unauthorized(w, "token revoked")
	case errors.Is(err, token.ErrInvalidToken), errors.Is(err, token.ErrMissingClaim):
		slog.DebugContext(r.Context(), "bearer token rejected", "error", err)
		Unauthorized(w, "invalid token")
	case errors.Is(err, token.ErrSigningKeyMissing):
		slog.ErrorContext(r.Context(), "token verification unavailable", "error", err)
		writeError(w, http.StatusInternalServerError, "signing key not configured")
	default:
		slog.ErrorContext(r.Context(), "token verification failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Unauthorized writes a 401 with a Bearer challenge.
func Unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="tokengate"`)
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
