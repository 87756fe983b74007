package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLockID is the advisory lock serializing migrations across
// tokengated replicas. Arbitrary but fixed; tests reference it.
const migrationLockID int64 = 0x746f6b67

// lock_timeout bounds the wait for a replica that died mid-migration.
const migrationLockTimeout = "30s"

type migration struct {
	version string // file name, e.g. 001_principals.sql
	sql     string
}

// loadMigrations reads every .sql file under dir in version order.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: e.Name(), sql: string(body)})
	}
	slices.SortFunc(out, func(a, b migration) int {
		return strings.Compare(a.version, b.version)
	})
	return out, nil
}

// Migrate brings the schema up to date. Each pending migration runs in its
// own transaction together with its schema_migrations row, so a failed file
// leaves nothing half applied. Replicas starting together queue on an
// advisory lock.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	pending, err := loadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	// Advisory locks belong to a session, so everything runs on one connection.
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for migration: %w", err)
	}
	defer conn.Release()

	unlock, err := lockMigrations(ctx, conn.Conn())
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	rows, err := conn.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}

	for _, m := range pending {
		if slices.Contains(applied, m.version) {
			continue
		}
		slog.Info("applying migration", "version", m.version)
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
	}
	return nil
}

// lockMigrations takes the migration advisory lock and returns its release.
func lockMigrations(ctx context.Context, conn *pgx.Conn) (func(), error) {
	if _, err := conn.Exec(ctx, "SET lock_timeout = '"+migrationLockTimeout+"'"); err != nil {
		return nil, fmt.Errorf("set lock_timeout: %w", err)
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return nil, fmt.Errorf("acquire migration lock (another replica may be migrating): %w", err)
	}

	return func() {
		// The connection returns to the pool, so undo the session state too,
		// even when ctx has already expired.
		ctx := context.WithoutCancel(ctx)
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			slog.Warn("release migration lock", "error", err)
		}
		if _, err := conn.Exec(ctx, "SET lock_timeout = DEFAULT"); err != nil {
			slog.Warn("reset lock_timeout", "error", err)
		}
	}, nil
}
