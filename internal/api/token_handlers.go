package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/token"
)

// IntrospectionResponse is returned by POST /v1/token/verify for an active token.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Subject   string `json:"sub"`
	Username  string `json:"username"`
	ExpiresAt int64  `json:"exp"`
}

// HandleVerify reports whether the bearer token in Authorization is valid.
// Inactive tokens get a 401 with the reason, never claims.
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	raw := auth.ExtractBearerToken(r)
	if raw == "" {
		auth.Unauthorized(w, "missing or invalid Authorization header")
		return
	}

	claims, err := s.Verifier.Verify(r.Context(), raw)
	if err != nil {
		auth.WriteVerifyError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, IntrospectionResponse{
		Active:    true,
		Subject:   claims.Subject,
		Username:  claims.Username,
		ExpiresAt: claims.ExpiresAt.Unix(),
	})
}

// HandleRevoke revokes the bearer token in Authorization until it expires.
func (s *Server) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if !s.Verifier.CanRevoke() {
		errorJSON(w, "token revocation not configured", http.StatusNotImplemented)
		return
	}

	raw := auth.ExtractBearerToken(r)
	if raw == "" {
		auth.Unauthorized(w, "missing or invalid Authorization header")
		return
	}

	claims, err := s.Verifier.Revoke(r.Context(), raw)
	if err != nil {
		if errors.Is(err, token.ErrRevocationUnsupported) {
			errorJSON(w, "token revocation not configured", http.StatusNotImplemented)
			return
		}
		auth.WriteVerifyError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "token revoked", "sub", claims.Subject, "jti", claims.ID)
	w.WriteHeader(http.StatusNoContent)
}
