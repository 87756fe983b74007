package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokengate/tokengate/internal/domain"
)

// PrincipalStore implements gate.PrincipalResolver backed by Postgres.
type PrincipalStore struct {
	pool *pgxpool.Pool
}

// NewPrincipalStore creates a PrincipalStore backed by the given pool.
func NewPrincipalStore(pool *pgxpool.Pool) *PrincipalStore {
	return &PrincipalStore{pool: pool}
}

// ResolvePrincipal looks username up case-insensitively. It never writes.
//
// The unique index on lower(username) makes a second row impossible; if one
// shows up anyway it is returned as domain.ErrDuplicateIdentity rather than
// picking a winner.
func (s *PrincipalStore) ResolvePrincipal(ctx context.Context, username string) (domain.Principal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username FROM principals WHERE lower(username) = lower($1) LIMIT 2`,
		username,
	)
	if err != nil {
		return domain.Principal{}, storeError("resolve principal", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.Principal])
	if err != nil {
		return domain.Principal{}, storeError("resolve principal", err)
	}

	switch len(found) {
	case 0:
		return domain.Principal{}, domain.ErrPrincipalNotFound
	case 1:
		return found[0], nil
	default:
		return domain.Principal{}, fmt.Errorf("resolve principal %q: %w", username, domain.ErrDuplicateIdentity)
	}
}

// CreatePrincipal inserts a principal and returns it with its assigned id.
func (s *PrincipalStore) CreatePrincipal(ctx context.Context, username string) (domain.Principal, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Principal{}, fmt.Errorf("create principal: username is empty")
	}

	p := domain.Principal{Username: username}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO principals (username) VALUES ($1) RETURNING id`,
		username,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Principal{}, fmt.Errorf("principal %q: %w", username, domain.ErrDuplicateIdentity)
		}
		return domain.Principal{}, storeError("create principal", err)
	}
	return p, nil
}
