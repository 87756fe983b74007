// Command tokengated serves the credential-issuance gate.
//
// Usage:
//
//	tokengated                          run the server
//	tokengated keygen -name <caller>    generate an API key for a caller
//	tokengated revoke-key -name <caller> revoke a caller's API keys
//	tokengated add-user -username <name> register a principal
//	tokengated healthcheck              probe /health/live (scratch containers)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tokengate/tokengate/internal/api"
	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/gate"
	"github.com/tokengate/tokengate/internal/postgres"
	"github.com/tokengate/tokengate/internal/ratelimit"
	"github.com/tokengate/tokengate/internal/redisconn"
	"github.com/tokengate/tokengate/internal/token"
)

const (
	// keyCacheTTL bounds how long a revoked API key keeps working.
	keyCacheTTL = 30 * time.Second
	// minSigningKeyLen is the HS256 key size below which startup warns.
	minSigningKeyLen = 32
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(runHealthcheck())
		case "keygen":
			os.Exit(runKeygen(os.Args[2:]))
		case "revoke-key":
			os.Exit(runRevokeKey(os.Args[2:]))
		case "add-user":
			os.Exit(runAddUser(os.Args[2:]))
		}
	}

	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg); err != nil {
		slog.Error("tokengated failed", "error", err)
		os.Exit(1)
	}
}

// setupLogging installs a JSON slog handler that attaches request_id from
// the request context. LOG_LEVEL selects debug, info (default), warn or error.
func setupLogging() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		level = slog.LevelInfo
	}
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(api.NewContextHandler(base)))
}

// loadConfig reads the config file, applies env overrides and validates.
func loadConfig() (*config.Config, error) {
	path := config.ResolvePath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		slog.Info("config loaded", "path", path)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid config value", "error", e)
		}
		return nil, fmt.Errorf("%d invalid config value(s)", len(errs))
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	var (
		pool   *pgxpool.Pool
		rdb    *redis.Client
		health []api.HealthChecker
	)

	if cfg.DatabaseURL != "" {
		var err error
		pool, err = postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer func() {
			pool.Close()
			slog.Info("database pool closed")
		}()
		if err := postgres.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		health = append(health, postgres.NewHealthChecker(pool))
	}

	if cfg.RedisURL != "" {
		var err error
		rdb, err = redisconn.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer func() {
			_ = rdb.Close()
			slog.Info("redis client closed")
		}()
		health = append(health, redisconn.NewHealthChecker(rdb))
	}

	keys := buildKeyChecker(cfg, pool)
	resolver := buildResolver(cfg, pool)

	if cfg.SigningKey == "" {
		slog.Error("SIGNING_KEY is not set; every token request will fail with 500 until it is")
	} else if len(cfg.SigningKey) < minSigningKeyLen {
		slog.Warn("SIGNING_KEY is shorter than 32 bytes", "length", len(cfg.SigningKey))
	}
	tokenOpts := token.Options{
		SigningKey: []byte(cfg.SigningKey),
		Expiry:     cfg.TokenExpiry,
		Issuer:     cfg.TokenIssuer,
	}

	var denylist token.Denylist
	if rdb != nil {
		denylist = token.NewRedisDenylist(rdb, "")
	} else {
		denylist = token.NewMemoryDenylist(time.Now)
		slog.Info("token revocation is local to this instance; set REDIS_URL to share it")
	}

	g, err := gate.New(gate.Config{
		CORS:     gate.NewCORSPolicy(cfg.CORSOrigins),
		Keys:     keys,
		Resolver: resolver,
		Issuer:   token.NewIssuer(tokenOpts),
	})
	if err != nil {
		return err
	}

	srv := &api.Server{
		Gate:        g,
		Verifier:    token.NewVerifier(tokenOpts, denylist),
		CORSOrigins: cfg.CORSOrigins,
		Health:      health,
	}

	if cfg.RateLimit.Enabled() {
		limiter, err := buildLimiter(cfg.RateLimit, rdb)
		if err != nil {
			return err
		}
		defer limiter.Close()
		srv.Limiter = limiter
	} else {
		slog.Warn("rate limiting disabled")
	}

	return serve(cfg.ListenAddr, api.NewRouter(srv))
}

func buildKeyChecker(cfg *config.Config, pool *pgxpool.Pool) gate.KeyChecker {
	if cfg.KeyPolicy == config.KeyPolicyHashed {
		slog.Info("API key policy: hashed", "cache_ttl", keyCacheTTL.String())
		return gate.NewHashedKeyChecker(postgres.NewAPIKeyStore(pool), cfg.MinKeyLength, keyCacheTTL)
	}
	slog.Warn("API key policy: length only; any key of sufficient length is accepted",
		"min_length", cfg.MinKeyLength)
	return gate.MinLengthChecker{Min: cfg.MinKeyLength}
}

func buildResolver(cfg *config.Config, pool *pgxpool.Pool) gate.PrincipalResolver {
	if pool != nil {
		return postgres.NewPrincipalStore(pool)
	}
	if len(cfg.Principals) == 0 {
		slog.Warn("no DATABASE_URL and no static principals; every username will be unknown")
	} else {
		slog.Info("using static principals from config", "count", len(cfg.Principals))
	}
	return gate.NewStaticResolver(cfg.Principals...)
}

func buildLimiter(rl config.RateLimitConfig, rdb *redis.Client) (ratelimit.Limiter, error) {
	lcfg := ratelimit.Config{
		RequestsPerSecond: rl.RequestsPerSecond,
		Burst:             rl.Burst,
		Window:            rl.Window,
	}
	if rdb != nil {
		slog.Info("rate limiting enabled (redis)", "rps", lcfg.RequestsPerSecond, "burst", lcfg.Burst, "window", lcfg.Window.String())
		return ratelimit.NewRedisLimiter(rdb, lcfg, ratelimit.RedisOptions{})
	}
	slog.Info("rate limiting enabled (local)", "rps", lcfg.RequestsPerSecond, "burst", lcfg.Burst)
	return ratelimit.NewLocalLimiter(lcfg), nil
}

// serve runs the HTTP server until SIGINT/SIGTERM, then drains connections.
func serve(addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if host, _, err := net.SplitHostPort(addr); err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		slog.Info("listening on all interfaces", "addr", addr)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("starting tokengated", "addr", addr, "version", api.Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	slog.Info("tokengated shutdown complete")
	return nil
}

// runHealthcheck probes the local liveness endpoint. Scratch images have no
// curl or wget, so the binary checks itself.
func runHealthcheck() int {
	addr := config.DefaultListenAddr
	if cfg, err := config.Load(config.ResolvePath()); err == nil && cfg.ApplyEnv() == nil {
		addr = cfg.ListenAddr
	}
	url := "http://" + probeAddr(addr) + "/health/live"

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

// probeAddr turns a listen address into one a local client can dial.
func probeAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch strings.Trim(host, "[]") {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
