// Package config provides unified configuration for the zutritt auth
// service.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (ZUTRITT_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import "time"

// Config holds all configuration for the zutritt auth service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Redis         RedisConfig         `yaml:"redis"`
	Token         TokenConfig         `yaml:"token"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	SSO           SSOConfig           `yaml:"sso"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
	Seed          SeedConfig          `yaml:"seed"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 10s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 10s
}

// StorageConfig holds identity store settings.
type StorageConfig struct {
	Type     string         `yaml:"type"` // "memory" or "postgres", default: "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// RedisConfig holds the shared-store settings for rate limiting and SSO
// handshake state. An empty Addr runs both on in-process fallbacks.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
}

// TokenConfig holds session token settings.
type TokenConfig struct {
	Secret             string        `yaml:"secret"`
	SecretFile         string        `yaml:"secret_file"` // _file variant for secret
	PreviousSecret     string        `yaml:"previous_secret"`
	PreviousSecretFile string        `yaml:"previous_secret_file"`
	TTL                time.Duration `yaml:"ttl"`    // default: 8h
	Issuer             string        `yaml:"issuer"` // default: "zutritt"
}

// RateLimitConfig holds per-tier request allowances and the pre-auth login
// throttle.
type RateLimitConfig struct {
	// Tiers maps tier name to requests per minute. Zero disables the limit
	// for that tier.
	Tiers map[string]int `yaml:"tiers"`

	// LoginPerMinute throttles unauthenticated login attempts per client IP
	// before any credential work happens. Default: 30.
	LoginPerMinute int `yaml:"login_per_minute"`

	// LoginBurst is the burst allowance on top of LoginPerMinute. Default: 10.
	LoginBurst int `yaml:"login_burst"`
}

// SSOConfig holds gateway-wide SSO settings; per-tenant provider
// configuration lives in the store.
type SSOConfig struct {
	// RequireSignedAssertions rejects SAML assertions without a signature
	// matching the tenant's configured certificate.
	RequireSignedAssertions bool `yaml:"require_signed_assertions"`
}

// AuditConfig holds audit dispatcher settings.
type AuditConfig struct {
	// Sink selects where audit events land: "log" or "postgres".
	// Default: "log"; "postgres" requires storage.type=postgres.
	Sink         string        `yaml:"sink"`
	BufferSize   int           `yaml:"buffer_size"`   // default: 1024
	FlushTimeout time.Duration `yaml:"flush_timeout"` // default: 5s
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// SeedConfig declares tenants (and their SSO providers) to load into the
// memory store at startup. Ignored for postgres storage, where tenants are
// managed in the database.
type SeedConfig struct {
	Tenants []SeedTenant `yaml:"tenants"`
}

// SeedTenant describes one tenant to seed.
type SeedTenant struct {
	ID       string          `yaml:"id"`
	Slug     string          `yaml:"slug"`
	Tier     string          `yaml:"tier"` // default: "starter"
	Features map[string]bool `yaml:"features"`

	SSOProviders []SeedProvider `yaml:"sso_providers"`
}

// SeedProvider describes one tenant's SSO provider configuration.
type SeedProvider struct {
	Provider         string `yaml:"provider"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	ClientSecretFile string `yaml:"client_secret_file"` // _file variant
	AuthURL          string `yaml:"auth_url"`
	TokenURL         string `yaml:"token_url"`
	UserInfoURL      string `yaml:"userinfo_url"`
	SSOURL           string `yaml:"sso_url"`
	Certificate      string `yaml:"certificate"`
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Token: TokenConfig{
			TTL:    8 * time.Hour,
			Issuer: "zutritt",
		},
		RateLimit: RateLimitConfig{
			Tiers: map[string]int{
				"starter":      60,
				"professional": 300,
				"enterprise":   1000,
			},
			LoginPerMinute: 30,
			LoginBurst:     10,
		},
		Audit: AuditConfig{
			Sink:         "log",
			BufferSize:   1024,
			FlushTimeout: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
