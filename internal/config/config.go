// Package config loads tokengate's process-wide configuration.
// Values come from an optional tokengate.yaml file, then environment
// variables override individual fields. The result is read once at startup
// and passed explicitly to every constructor; nothing reads the environment
// at request time.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
	"gopkg.in/yaml.v3"
)

// Key policies accepted by KeyPolicy.
const (
	KeyPolicyLength = "length" // minimum-length heuristic only (weak)
	KeyPolicyHashed = "hashed" // per-caller SHA-256 hashes stored in Postgres
)

const (
	DefaultListenAddr   = "127.0.0.1:8080"
	DefaultTokenExpiry  = 7 * 24 * time.Hour
	DefaultMinKeyLength = 12
	DefaultTokenIssuer  = "tokengate"
)

// Config is the top-level tokengate configuration.
type Config struct {
	ListenAddr   string          `yaml:"listen_addr"`
	DatabaseURL  string          `yaml:"database_url"`
	RedisURL     string          `yaml:"redis_url"`
	SigningKey   string          `yaml:"signing_key"`
	TokenIssuer  string          `yaml:"token_issuer"`
	TokenExpiry  time.Duration   `yaml:"token_expiry"`
	KeyPolicy    string          `yaml:"key_policy"`
	MinKeyLength int             `yaml:"min_key_length"`
	CORSOrigins  []string        `yaml:"cors_origins"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`

	// Principals is a static identity list used when no database is
	// configured. Handy for local development; ignored with database_url.
	Principals []domain.Principal `yaml:"principals"`
}

// RateLimitConfig limits token requests per client IP.
// A zero RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Window            time.Duration `yaml:"window"` // sliding window for the Redis limiter
}

// Enabled reports whether rate limiting is switched on.
func (r RateLimitConfig) Enabled() bool {
	return r.RequestsPerSecond > 0 && r.Burst > 0
}

// DefaultConfig returns the defaults used when no file or env var says otherwise.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   DefaultListenAddr,
		TokenIssuer:  DefaultTokenIssuer,
		TokenExpiry:  DefaultTokenExpiry,
		KeyPolicy:    KeyPolicyLength,
		MinKeyLength: DefaultMinKeyLength,
		CORSOrigins:  []string{"*"},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             20,
			Window:            time.Minute,
		},
	}
}

// Load parses a tokengate.yaml file on top of the defaults.
// If path is empty, returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: TOKENGATE_CONFIG env var > ./tokengate.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("TOKENGATE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("tokengate.yaml"); err == nil {
		return "tokengate.yaml"
	}
	return ""
}

// ApplyEnv overrides fields from environment variables.
// Malformed values are returned as errors rather than silently ignored.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("TOKENGATE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	} else if port := os.Getenv("PORT"); port != "" {
		c.ListenAddr = ":" + port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("SIGNING_KEY"); v != "" {
		c.SigningKey = v
	}
	if v := os.Getenv("TOKEN_ISSUER"); v != "" {
		c.TokenIssuer = v
	}
	if v := os.Getenv("KEY_POLICY"); v != "" {
		c.KeyPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("TOKEN_EXPIRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TOKEN_EXPIRY=%q: must be a valid Go duration (e.g. 168h): %w", v, err)
		}
		c.TokenExpiry = d
	}
	if v := os.Getenv("MIN_API_KEY_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MIN_API_KEY_LENGTH=%q: must be an integer: %w", v, err)
		}
		c.MinKeyLength = n
	}
	// RATE_LIMIT=0 disables limiting; any other number sets requests per second.
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT=%q: must be a number: %w", v, err)
		}
		c.RateLimit.RequestsPerSecond = rps
	}
	return nil
}

// Validate checks every field and returns all problems at once, so operators
// can fix a broken deployment in one pass.
func (c *Config) Validate() []string {
	var errs []string

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		errs = append(errs, fmt.Sprintf("listen_addr=%q: must be host:port (%v)", c.ListenAddr, err))
	}
	if c.DatabaseURL != "" {
		if _, err := url.Parse(c.DatabaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("database_url: invalid URL (%v)", err))
		}
	}
	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			errs = append(errs, fmt.Sprintf("redis_url: invalid URL (%v)", err))
		}
	}
	if c.TokenExpiry <= 0 {
		errs = append(errs, fmt.Sprintf("token_expiry=%s: must be positive", c.TokenExpiry))
	}
	if c.MinKeyLength < 1 {
		errs = append(errs, fmt.Sprintf("min_key_length=%d: must be at least 1", c.MinKeyLength))
	}
	switch c.KeyPolicy {
	case KeyPolicyLength:
	case KeyPolicyHashed:
		if c.DatabaseURL == "" {
			errs = append(errs, "key_policy=hashed requires database_url")
		}
	default:
		errs = append(errs, fmt.Sprintf("key_policy=%q: must be %q or %q", c.KeyPolicy, KeyPolicyLength, KeyPolicyHashed))
	}
	if len(c.CORSOrigins) == 0 {
		errs = append(errs, "cors_origins: at least one origin (or \"*\") is required")
	}
	seen := make(map[string]bool, len(c.Principals))
	for i, p := range c.Principals {
		name := strings.ToLower(strings.TrimSpace(p.Username))
		switch {
		case name == "":
			errs = append(errs, fmt.Sprintf("principals[%d]: username is required", i))
		case seen[name]:
			errs = append(errs, fmt.Sprintf("principals[%d]: username %q duplicates another entry (case-insensitive)", i, p.Username))
		}
		seen[name] = true
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, "rate_limit.requests_per_second: must not be negative")
	}

	return errs
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
