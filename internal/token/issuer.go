// Package token mints and verifies the bearer tokens handed out by the gate.
//
// Tokens are HS256 JWTs carrying the principal ID ("sub"), the username,
// issue and expiry times, and a random ID ("jti"). Any handler holding the
// same signing key can verify them without querying the identity store. A
// token is trusted iff its signature verifies, now < exp, and (when a
// denylist is configured) its jti has not been revoked.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tokengate/tokengate/internal/domain"
)

// DefaultExpiry is the validity window used when Options.Expiry is zero.
const DefaultExpiry = 7 * 24 * time.Hour

// Token errors
var (
	ErrSigningKeyMissing = errors.New("signing key not configured")
	ErrInvalidToken      = errors.New("invalid token")
	ErrExpiredToken      = errors.New("token expired")
	ErrRevokedToken      = errors.New("token revoked")
	ErrMissingClaim      = errors.New("missing required claim")
)

// Claims is the claim set carried by every issued token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Options configures an Issuer or Verifier. Both sides of a deployment must
// agree on SigningKey and Issuer.
type Options struct {
	SigningKey []byte
	Expiry     time.Duration    // replay window; zero uses DefaultExpiry
	Issuer     string           // "iss" claim; empty omits it
	Now        func() time.Time // nil uses time.Now
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Issued is the result of a successful Issue call.
type Issued struct {
	Token  string
	Claims Claims
}

// Issuer signs claim sets for resolved principals.
type Issuer struct {
	opts Options
}

// NewIssuer creates an Issuer. A missing signing key is not an error here;
// Issue refuses to sign until one is configured.
func NewIssuer(opts Options) *Issuer {
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	return &Issuer{opts: opts}
}

// Configured reports whether the issuer has a signing key.
func (i *Issuer) Configured() bool {
	return len(i.opts.SigningKey) > 0
}

// Expiry returns the configured validity window.
func (i *Issuer) Expiry() time.Duration {
	return i.opts.Expiry
}

// Issue signs a token for p. It fails closed with ErrSigningKeyMissing when
// no signing key is configured; it never produces an unsigned token.
func (i *Issuer) Issue(p domain.Principal) (Issued, error) {
	if !i.Configured() {
		return Issued{}, ErrSigningKeyMissing
	}

	// JWT dates have second precision; truncate so exp is exactly iat+expiry.
	now := i.opts.now().Truncate(time.Second)
	claims := Claims{
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject(),
			Issuer:    i.opts.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.opts.Expiry)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.opts.SigningKey)
	if err != nil {
		return Issued{}, fmt.Errorf("sign token: %w", err)
	}
	return Issued{Token: signed, Claims: claims}, nil
}
