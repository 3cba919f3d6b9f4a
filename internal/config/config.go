// Package config loads process configuration from the environment,
// following the accumulate-then-validate pattern used throughout this
// codebase: every variable is parsed independently and parse errors are
// joined so an operator sees every misconfiguration in one pass.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the process needs at startup.
type Config struct {
	ServerEnv string
	Listen    string

	DatabaseURL     string
	DatabaseMaxConn int32
	DatabaseMinConn int32

	RedisURL string

	JWTSecret string
	JWTIssuer string

	CORSAllowOrigins string

	RateLimitWindow time.Duration
	RateLimitCap    int

	TypingExpiry          time.Duration
	VoiceHeartbeatTimeout time.Duration
	GatewayPingInterval   time.Duration

	LockdownBypassLevel   int
	SecureViewLogsLevel   int
	SecureLockdownLevel   int
	BlockDeleteLevel      int
	RateLimitExemptLevel  int

	MaxRolesPerServer    int
	AuditPageMaxLimit    int
	AuditPageDefaultLimit int

	PermissionCacheTTL time.Duration
}

type parser struct {
	errs []error
}

func (p *parser) str(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func (p *parser) int(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return n
}

func (p *parser) int32(name string, def int32) int32 {
	return int32(p.int(name, int(def)))
}

func (p *parser) duration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", name, err))
		return def
	}
	return d
}

// Load builds a Config from the environment, applying defaults for any
// unset variable, and returns a joined error if any value failed to parse.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		ServerEnv: p.str("SERVER_ENV", "development"),
		Listen:    p.str("LISTEN_ADDR", ":8080"),

		DatabaseURL:     p.str("DATABASE_URL", "postgres://localhost:5432/aegis_ids"),
		DatabaseMaxConn: p.int32("DATABASE_MAX_CONN", 20),
		DatabaseMinConn: p.int32("DATABASE_MIN_CONN", 2),

		RedisURL: p.str("REDIS_URL", "redis://localhost:6379/0"),

		JWTSecret: p.str("JWT_SECRET", ""),
		JWTIssuer: p.str("JWT_ISSUER", "aegis-ids"),

		CORSAllowOrigins: p.str("CORS_ALLOW_ORIGINS", "*"),

		RateLimitWindow: p.duration("SECURE_RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitCap:    p.int("SECURE_RATE_LIMIT_CAP", 10),

		TypingExpiry:          p.duration("TYPING_EXPIRY", 8*time.Second),
		VoiceHeartbeatTimeout: p.duration("VOICE_HEARTBEAT_TIMEOUT", 45*time.Second),
		GatewayPingInterval:   p.duration("GATEWAY_PING_INTERVAL", 30*time.Second),

		LockdownBypassLevel:  p.int("LOCKDOWN_BYPASS_LEVEL", 90),
		SecureViewLogsLevel:  p.int("SECURE_VIEW_LOGS_LEVEL", 70),
		SecureLockdownLevel:  p.int("SECURE_LOCKDOWN_LEVEL", 80),
		BlockDeleteLevel:     p.int("BLOCK_DELETE_LEVEL", 70),
		RateLimitExemptLevel: p.int("RATE_LIMIT_EXEMPT_LEVEL", 70),

		MaxRolesPerServer:     p.int("MAX_ROLES_PER_SERVER", 250),
		AuditPageMaxLimit:     p.int("AUDIT_PAGE_MAX_LIMIT", 200),
		AuditPageDefaultLimit: p.int("AUDIT_PAGE_DEFAULT_LIMIT", 50),

		PermissionCacheTTL: p.duration("PERMISSION_CACHE_TTL", 300*time.Second),
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.JWTSecret == "" && !c.IsDevelopment() {
		errs = append(errs, errors.New("JWT_SECRET must be set outside development"))
	}
	if c.RateLimitCap <= 0 {
		errs = append(errs, errors.New("SECURE_RATE_LIMIT_CAP must be positive"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// IsDevelopment reports whether ServerEnv is "development".
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}
