// Package gate implements the credential-issuance pipeline: an HTTP handler
// that checks the method and body, answers CORS preflight, authenticates the
// caller's API key, resolves a username to a principal and returns a signed
// bearer token.
//
// Stages run strictly in this order and any of them may end the request:
//
//	Received → MethodChecked → CorsHandled (OPTIONS ends here) → ShapeChecked
//	  → KeyChecked → IdentityResolved → TokenIssued → ResponseSent
//
// The identity store is never queried for a request whose key was rejected,
// and no token is minted without a resolved principal. Every response, success
// or failure, carries the same CORS headers.
package gate

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/token"
)

// TokenIssuer mints a bearer token for a resolved principal.
// *token.Issuer implements it.
type TokenIssuer interface {
	Issue(p domain.Principal) (token.Issued, error)
}

// Config holds everything a Gate needs. It is built once at startup.
type Config struct {
	CORS     CORSPolicy
	Keys     KeyChecker
	Resolver PrincipalResolver
	Issuer   TokenIssuer
}

// Gate is the credential-issuance handler. It is safe for concurrent use;
// per-request state lives on the stack.
type Gate struct {
	cors     CORSPolicy
	keys     KeyChecker
	resolver PrincipalResolver
	issuer   TokenIssuer
}

// New validates cfg and returns a Gate.
func New(cfg Config) (*Gate, error) {
	switch {
	case cfg.Keys == nil:
		return nil, errors.New("gate: key checker is required")
	case cfg.Resolver == nil:
		return nil, errors.New("gate: principal resolver is required")
	case cfg.Issuer == nil:
		return nil, errors.New("gate: token issuer is required")
	}
	policy := cfg.CORS
	if len(policy.AllowedOrigins) == 0 {
		policy = NewCORSPolicy(nil)
	}
	return &Gate{
		cors:     policy.normalized(),
		keys:     cfg.Keys,
		resolver: cfg.Resolver,
		issuer:   cfg.Issuer,
	}, nil
}

type stage int

const (
	stageMethod stage = iota
	stageShape
	stageKey
	stageIdentity
	stageToken
	stageRateLimit
)

func (s stage) String() string {
	switch s {
	case stageMethod:
		return "method"
	case stageShape:
		return "shape"
	case stageKey:
		return "key"
	case stageIdentity:
		return "identity"
	case stageToken:
		return "token"
	case stageRateLimit:
		return "rate_limit"
	default:
		return "unknown"
	}
}

// ServeHTTP runs the pipeline for one request.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := checkMethod(r); err != nil {
		g.fail(w, r, stageMethod, err)
		return
	}

	// Preflight never carries the caller's real credentials.
	if r.Method == http.MethodOptions {
		g.writeEnvelope(w, r, http.StatusOK, nil)
		return
	}

	req, err := decodeRequest(w, r)
	if err != nil {
		g.fail(w, r, stageShape, err)
		return
	}

	ctx := r.Context()
	if err := g.keys.CheckKey(ctx, r.Header.Get(APIKeyHeader)); err != nil {
		g.fail(w, r, stageKey, err)
		return
	}

	principal, err := g.resolver.ResolvePrincipal(ctx, req.Username)
	if err != nil {
		g.fail(w, r, stageIdentity, err)
		return
	}

	issued, err := g.issuer.Issue(principal)
	if err != nil {
		g.fail(w, r, stageToken, err)
		return
	}

	slog.InfoContext(ctx, "token issued",
		"sub", issued.Claims.Subject,
		"jti", issued.Claims.ID,
		"expires_at", issued.Claims.ExpiresAt.Time,
	)
	g.writeEnvelope(w, r, http.StatusOK, TokenResponse{UserID: principal.ID, Token: issued.Token})
}

// Reject writes a failure envelope for err with the gate's CORS headers.
// Middleware in front of the gate (rate limiting) uses it so its responses
// look like the gate's own.
func (g *Gate) Reject(w http.ResponseWriter, r *http.Request, err error) {
	g.fail(w, r, stageRateLimit, err)
}
