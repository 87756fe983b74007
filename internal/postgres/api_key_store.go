package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokengate/tokengate/internal/domain"
)

// APIKeyStore implements gate.KeyStore backed by Postgres.
type APIKeyStore struct {
	pool *pgxpool.Pool
}

// NewAPIKeyStore creates an APIKeyStore backed by the given pool.
func NewAPIKeyStore(pool *pgxpool.Pool) *APIKeyStore {
	return &APIKeyStore{pool: pool}
}

// LookupAPIKey returns the key row whose hash matches, revoked or not.
func (s *APIKeyStore) LookupAPIKey(ctx context.Context, hash string) (domain.APIKey, error) {
	var k domain.APIKey
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, prefix, key_hash, created_at, revoked_at
		 FROM api_keys WHERE key_hash = $1`,
		hash,
	).Scan(&k.ID, &k.Name, &k.Prefix, &k.Hash, &k.CreatedAt, &k.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.APIKey{}, domain.ErrAPIKeyNotFound
		}
		return domain.APIKey{}, storeError("lookup api key", err)
	}
	return k, nil
}

// CreateAPIKey stores a new key. k.Hash must already be the SHA-256 hex
// digest; the plaintext key never reaches the database.
func (s *APIKeyStore) CreateAPIKey(ctx context.Context, k *domain.APIKey) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO api_keys (name, prefix, key_hash) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		k.Name, k.Prefix, k.Hash,
	).Scan(&k.ID, &k.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("api key %q: hash already registered", k.Name)
		}
		return storeError("create api key", err)
	}
	return nil
}

// RevokeAPIKey marks every active key named name as revoked and returns how
// many were affected.
func (s *APIKeyStore) RevokeAPIKey(ctx context.Context, name string, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE name = $1 AND revoked_at IS NULL`,
		name, at,
	)
	if err != nil {
		return 0, storeError("revoke api key", err)
	}
	return tag.RowsAffected(), nil
}
