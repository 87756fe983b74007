package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokengate/tokengate/internal/domain"
	"github.com/tokengate/tokengate/internal/gate"
	"github.com/tokengate/tokengate/internal/postgres"
)

const adminTimeout = 30 * time.Second

// runKeygen generates an API key for a caller. The raw key is printed once;
// only its hash is stored. Without -insert it prints the SQL to store it.
func runKeygen(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	name := fs.String("name", "", "caller the key belongs to (required)")
	prefix := fs.String("prefix", "tg", "key prefix")
	insert := fs.Bool("insert", false, "store the hash in DATABASE_URL instead of printing SQL")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "keygen: -name is required")
		fs.Usage()
		return 2
	}

	key, hash, display, err := gate.GenerateAPIKey(*prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		return 1
	}
	rec := &domain.APIKey{Name: strings.TrimSpace(*name), Prefix: display, Hash: hash}

	if *insert {
		err := withStore(func(ctx context.Context, pool *pgxpool.Pool) error {
			return postgres.NewAPIKeyStore(pool).CreateAPIKey(ctx, rec)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "stored api key %d for %q\n", rec.ID, rec.Name)
	} else {
		printKeySQL(os.Stderr, rec)
	}

	fmt.Fprintln(os.Stderr, "The key is shown once. Store it now.")
	fmt.Println(key)
	return 0
}

func printKeySQL(w io.Writer, k *domain.APIKey) {
	fmt.Fprintf(w, "INSERT INTO api_keys (name, prefix, key_hash) VALUES (%s, %s, %s);\n",
		sqlQuote(k.Name), sqlQuote(k.Prefix), sqlQuote(k.Hash))
}

// sqlQuote renders s as a SQL string literal.
func sqlQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// runRevokeKey revokes every active key registered for a caller.
func runRevokeKey(args []string) int {
	fs := flag.NewFlagSet("revoke-key", flag.ContinueOnError)
	name := fs.String("name", "", "caller whose keys to revoke (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" {
		fmt.Fprintln(os.Stderr, "revoke-key: -name is required")
		return 2
	}

	var n int64
	err := withStore(func(ctx context.Context, pool *pgxpool.Pool) error {
		var err error
		n, err = postgres.NewAPIKeyStore(pool).RevokeAPIKey(ctx, *name, time.Now().UTC())
		return err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "revoke-key: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "revoked %d key(s) for %q\n", n, *name)
	if n == 0 {
		return 1
	}
	return 0
}

// runAddUser registers a principal tokens can be issued for.
func runAddUser(args []string) int {
	fs := flag.NewFlagSet("add-user", flag.ContinueOnError)
	username := fs.String("username", "", "username to register (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*username) == "" {
		fmt.Fprintln(os.Stderr, "add-user: -username is required")
		return 2
	}

	var p domain.Principal
	err := withStore(func(ctx context.Context, pool *pgxpool.Pool) error {
		var err error
		p, err = postgres.NewPrincipalStore(pool).CreatePrincipal(ctx, *username)
		return err
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "add-user: %v\n", err)
		return 1
	}
	fmt.Printf("%d\t%s\n", p.ID, p.Username)
	return 0
}

// withStore connects to DATABASE_URL, applies migrations and runs fn.
func withStore(fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	return fn(ctx, pool)
}
