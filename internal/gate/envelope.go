package gate

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// TokenResponse is the success body.
type TokenResponse struct {
	UserID int64  `json:"userId"`
	Token  string `json:"token"`
}

// ErrorResponse is the failure body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeEnvelope writes status and body with the CORS headers attached.
// A nil body writes no content (used for preflight).
func (g *Gate) writeEnvelope(w http.ResponseWriter, r *http.Request, status int, body any) {
	g.cors.apply(w, r)
	w.Header().Set("Cache-Control", "no-store")
	if body == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode gate response", "error", err)
	}
}

// fail converts err into a failure envelope. Server-side failures are logged
// with their cause; the caller only sees the public message.
func (g *Gate) fail(w http.ResponseWriter, r *http.Request, st stage, err error) {
	ge := classify(err)
	status := ge.Kind.Status()

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "credential request failed",
			"stage", st.String(),
			"kind", ge.Kind.String(),
			"error", ge.Err,
		)
	} else {
		slog.DebugContext(r.Context(), "credential request rejected",
			"stage", st.String(),
			"kind", ge.Kind.String(),
		)
	}
	if ge.Kind == KindMethodNotAllowed {
		w.Header().Set("Allow", allowHeader)
	}
	g.writeEnvelope(w, r, status, ErrorResponse{Error: ge.Msg})
}
