package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrRevocationUnsupported is returned by Revoke when no denylist is configured.
var ErrRevocationUnsupported = errors.New("token revocation not configured")

// Verifier checks tokens minted by an Issuer sharing the same Options.
type Verifier struct {
	opts     Options
	denylist Denylist
}

// NewVerifier creates a Verifier. denylist may be nil, in which case expiry
// is the only invalidation mechanism.
func NewVerifier(opts Options, denylist Denylist) *Verifier {
	return &Verifier{opts: opts, denylist: denylist}
}

// CanRevoke reports whether Revoke is backed by a denylist.
func (v *Verifier) CanRevoke() bool {
	return v.denylist != nil
}

// Verify validates the signature, expiry, issuer and revocation state of raw
// and returns its claims.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims, err := v.parse(raw)
	if err != nil {
		return nil, err
	}

	if v.denylist != nil && claims.ID != "" {
		revoked, err := v.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}
	return claims, nil
}

// Revoke verifies raw and adds its jti to the denylist until the token's
// own expiry. Revoking an already revoked token is not an error.
func (v *Verifier) Revoke(ctx context.Context, raw string) (*Claims, error) {
	if v.denylist == nil {
		return nil, ErrRevocationUnsupported
	}
	claims, err := v.Verify(ctx, raw)
	if errors.Is(err, ErrRevokedToken) {
		return v.parse(raw)
	}
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: jti", ErrMissingClaim)
	}
	if err := v.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, fmt.Errorf("revoke token: %w", err)
	}
	return claims, nil
}

// parse checks everything except revocation.
func (v *Verifier) parse(raw string) (*Claims, error) {
	if len(v.opts.SigningKey) == 0 {
		return nil, ErrSigningKeyMissing
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.opts.now),
	}
	if v.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.opts.Issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.opts.SigningKey, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims, nil
}
