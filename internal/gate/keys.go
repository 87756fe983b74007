package gate

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tokengate/tokengate/internal/cache"
	"github.com/tokengate/tokengate/internal/domain"
)

// APIKeyHeader carries the caller's shared secret. Lookups go through
// http.Header.Get, so the header name is matched case-insensitively.
const APIKeyHeader = "X-API-Key"

// ErrInvalidKey is returned by a KeyChecker for a missing, weak, unknown or
// revoked key. The caller never learns which.
var ErrInvalidKey = errors.New("invalid API key")

// KeyChecker decides whether a presented API key may proceed to identity
// resolution. Implementations must not retain the key.
type KeyChecker interface {
	CheckKey(ctx context.Context, key string) error
}

// MinLengthChecker rejects absent keys and keys shorter than Min.
//
// This is a strength heuristic only: any sufficiently long string passes.
// Use HashedKeyChecker for deployments that need to know who the caller is.
type MinLengthChecker struct {
	Min int
}

func (c MinLengthChecker) CheckKey(_ context.Context, key string) error {
	if key == "" || len(key) < c.Min {
		return ErrInvalidKey
	}
	return nil
}

// KeyStore looks up registered API keys by SHA-256 hash.
// It returns domain.ErrAPIKeyNotFound when no key has that hash.
type KeyStore interface {
	LookupAPIKey(ctx context.Context, hash string) (domain.APIKey, error)
}

// HashedKeyChecker verifies that the caller holds a registered, unrevoked
// key. Keys are stored as SHA-256 hashes; the stored hash is compared in
// constant time. Found keys are cached, so a revocation takes up to the cache
// TTL to reach a running process.
type HashedKeyChecker struct {
	minLen MinLengthChecker
	store  KeyStore
	cache  *cache.Cache[string, domain.APIKey]
}

// NewHashedKeyChecker creates a checker backed by store. Keys shorter than
// minLen are rejected without a lookup. cacheTTL <= 0 uses cache.DefaultTTL.
func NewHashedKeyChecker(store KeyStore, minLen int, cacheTTL time.Duration) *HashedKeyChecker {
	return &HashedKeyChecker{
		minLen: MinLengthChecker{Min: minLen},
		store:  store,
		cache:  cache.New[string, domain.APIKey](cache.Options{TTL: cacheTTL, MaxEntries: 1024}),
	}
}

func (c *HashedKeyChecker) CheckKey(ctx context.Context, key string) error {
	if err := c.minLen.CheckKey(ctx, key); err != nil {
		return err
	}

	hash := HashAPIKey(key)
	rec, ok := c.cache.Get(hash)
	if !ok {
		var err error
		rec, err = c.store.LookupAPIKey(ctx, hash)
		switch {
		case errors.Is(err, domain.ErrAPIKeyNotFound):
			return ErrInvalidKey
		case err != nil:
			return fmt.Errorf("%w: lookup api key: %v", domain.ErrStoreUnavailable, err)
		}
		c.cache.Set(hash, rec)
	}

	if !apiKeyHashesEqual(rec.Hash, hash) || rec.Revoked() {
		return ErrInvalidKey
	}
	return nil
}

// HashAPIKey returns the hex-encoded SHA-256 hash of an API key. Keys are
// stored as hashes so a database leak does not expose caller secrets.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func apiKeyHashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// apiKeyRandomBytes is the entropy of a generated key.
const apiKeyRandomBytes = 32

// displayPrefixLength is how much of a key is kept for display.
const displayPrefixLength = 10

// GenerateAPIKey creates a new random key "<prefix>_<random>".
// It returns the raw key (show it once), its hash (store it) and a short
// display prefix.
func GenerateAPIKey(prefix string) (key, hash, display string, err error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate random bytes: %w", err)
	}
	key = prefix + "_" + base64.RawURLEncoding.EncodeToString(buf)
	display = key
	if len(display) > displayPrefixLength {
		display = display[:displayPrefixLength]
	}
	return key, HashAPIKey(key), display, nil
}
