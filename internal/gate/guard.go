package gate

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// maxBodySize caps credential request bodies (1MB).
const maxBodySize = 1 << 20

// allowHeader is sent with 405 responses.
const allowHeader = "POST, OPTIONS"

// CredentialRequest is the JSON body of a token request.
type CredentialRequest struct {
	Username string `json:"username"`
}

// checkMethod admits POST and OPTIONS; anything else is a 405.
func checkMethod(r *http.Request) error {
	switch r.Method {
	case http.MethodPost, http.MethodOptions:
		return nil
	default:
		return &Error{Kind: KindMethodNotAllowed, Msg: msgMethodNotAllowed}
	}
}

// decodeRequest parses the body and rejects a missing or blank username.
// It runs before any key checking so malformed requests cost nothing.
func decodeRequest(w http.ResponseWriter, r *http.Request) (CredentialRequest, error) {
	var req CredentialRequest
	if r.Body == nil || r.Body == http.NoBody {
		return req, &Error{Kind: KindBadRequest, Msg: msgUsernameRequired}
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return req, &Error{Kind: KindBadRequest, Msg: msgInvalidBody, Err: err}
		}
		// An empty body decodes to io.EOF: treat it like {}.
		if errors.Is(err, io.EOF) {
			return req, &Error{Kind: KindBadRequest, Msg: msgUsernameRequired}
		}
		return req, &Error{Kind: KindBadRequest, Msg: msgInvalidBody, Err: err}
	}
	if strings.TrimSpace(req.Username) == "" {
		return req, &Error{Kind: KindBadRequest, Msg: msgUsernameRequired}
	}
	return req, nil
}
