// Package domain defines the core types shared across tokengate.
// These types describe identities and registered callers, not HTTP specifics.
//
// Principals and API keys are owned by the identity store. The request path
// only reads them; rows are created by the keygen command and by tests.
package domain

import (
	"errors"
	"strconv"
	"time"
)

// Store errors. Implementations wrap these so callers can classify failures
// with errors.Is without depending on a particular driver.
var (
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrAPIKeyNotFound    = errors.New("api key not found")
	ErrStoreUnavailable  = errors.New("identity store unavailable")
	ErrDuplicateIdentity = errors.New("duplicate principal username")
)

// Principal is an identity a bearer token can be issued for.
// Username is unique case-insensitively; the store enforces that.
type Principal struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Subject returns the principal ID in the form carried by the "sub" claim.
func (p Principal) Subject() string {
	return strconv.FormatInt(p.ID, 10)
}

// APIKey is a registered caller secret. Only the SHA-256 hash of the key is
// stored; the raw key is shown once when generated and never persisted.
type APIKey struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Prefix    string     `json:"prefix"` // first characters of the raw key, for display
	Hash      string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Revoked reports whether the key has been revoked.
func (k APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
