package gate

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/token"
)

// Kind classifies a pipeline failure. Each kind maps to one status code.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindUnauthorized
	KindNotFound
	KindMethodNotAllowed
	KindRateLimited
	KindConfiguration
	KindStoreUnavailable
)

var kindNames = map[Kind]string{
	KindInternal:         "internal",
	KindBadRequest:       "bad_request",
	KindUnauthorized:     "unauthorized",
	KindNotFound:         "not_found",
	KindMethodNotAllowed: "method_not_allowed",
	KindRateLimited:      "rate_limited",
	KindConfiguration:    "configuration",
	KindStoreUnavailable: "store_unavailable",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status returns the HTTP status code for k.
// NotFound is deliberately 400: callers cannot tell an unknown user from a
// malformed request.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest, KindNotFound:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Caller-facing messages.
const (
	msgInvalidKey       = "invalid API key"
	msgUsernameRequired = "username required"
	msgInvalidBody      = "invalid request body"
	msgUserNotFound     = "user not found"
	msgMethodNotAllowed = "method not allowed"
	msgRateLimited      = "rate limit exceeded"
	msgSigningKey       = "signing key not configured"
	msgInternal         = "internal error"
)

// Error is a classified pipeline failure. Msg is safe to show the caller;
// Err carries the internal cause and is only logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrRateLimited is passed to Gate.Reject by rate-limiting middleware.
var ErrRateLimited = &Error{Kind: KindRateLimited, Msg: msgRateLimited}

// classify converts any error into a *Error. Unrecognised errors become
// KindInternal with a generic message so internal details never leak.
func classify(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	switch {
	case errors.Is(err, ErrInvalidKey):
		return &Error{Kind: KindUnauthorized, Msg: msgInvalidKey, Err: err}
	case errors.Is(err, domain.ErrPrincipalNotFound):
		return &Error{Kind: KindNotFound, Msg: msgUserNotFound, Err: err}
	case errors.Is(err, token.ErrSigningKeyMissing):
		return &Error{Kind: KindConfiguration, Msg: msgSigningKey, Err: err}
	case errors.Is(err, domain.ErrStoreUnavailable):
		return &Error{Kind: KindStoreUnavailable, Msg: msgInternal, Err: err}
	default:
		return &Error{Kind: KindInternal, Msg: msgInternal, Err: err}
	}
}
