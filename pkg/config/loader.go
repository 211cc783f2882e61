package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, ZUTRITT_CONFIG env, ./config.yaml, /etc/zutritt/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	// Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. ZUTRITT_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/zutritt/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	// Check ZUTRITT_CONFIG env var.
	if envPath := os.Getenv("ZUTRITT_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"config.yaml",
		"/etc/zutritt/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps ZUTRITT_* environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZUTRITT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ZUTRITT_STORAGE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("ZUTRITT_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("ZUTRITT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ZUTRITT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ZUTRITT_TOKEN_SECRET"); v != "" {
		cfg.Token.Secret = v
	}
	if v := os.Getenv("ZUTRITT_TOKEN_PREVIOUS_SECRET"); v != "" {
		cfg.Token.PreviousSecret = v
	}
	if v := os.Getenv("ZUTRITT_TOKEN_TTL"); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil {
			cfg.Token.TTL = ttl
		}
	}
	if v := os.Getenv("ZUTRITT_AUDIT_SINK"); v != "" {
		cfg.Audit.Sink = v
	}

	// ZUTRITT_SEED_TENANTS: JSON array of tenant seeds.
	if v := os.Getenv("ZUTRITT_SEED_TENANTS"); v != "" {
		tenants, err := parseSeedTenantsJSON(v)
		if err == nil && len(tenants) > 0 {
			cfg.Seed.Tenants = tenants
		}
	}
}

// parseSeedTenantsJSON parses a JSON array of tenant seeds.
func parseSeedTenantsJSON(jsonStr string) ([]SeedTenant, error) {
	var tenants []SeedTenant
	if err := json.Unmarshal([]byte(jsonStr), &tenants); err != nil {
		return nil, fmt.Errorf("parsing seed tenants JSON: %w", err)
	}
	return tenants, nil
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// storage.postgres.dsn_file -> storage.postgres.dsn
	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	// redis.password_file -> redis.password
	if cfg.Redis.PasswordFile != "" && cfg.Redis.Password == "" {
		val, err := readSecretFile(cfg.Redis.PasswordFile)
		if err != nil {
			return fmt.Errorf("redis.password_file: %w", err)
		}
		cfg.Redis.Password = val
	}

	// token.secret_file -> token.secret
	if cfg.Token.SecretFile != "" && cfg.Token.Secret == "" {
		val, err := readSecretFile(cfg.Token.SecretFile)
		if err != nil {
			return fmt.Errorf("token.secret_file: %w", err)
		}
		cfg.Token.Secret = val
	}

	// token.previous_secret_file -> token.previous_secret
	if cfg.Token.PreviousSecretFile != "" && cfg.Token.PreviousSecret == "" {
		val, err := readSecretFile(cfg.Token.PreviousSecretFile)
		if err != nil {
			return fmt.Errorf("token.previous_secret_file: %w", err)
		}
		cfg.Token.PreviousSecret = val
	}

	// seed.tenants[*].sso_providers[*].client_secret_file -> client_secret
	for i := range cfg.Seed.Tenants {
		for j := range cfg.Seed.Tenants[i].SSOProviders {
			p := &cfg.Seed.Tenants[i].SSOProviders[j]
			if p.ClientSecretFile != "" && p.ClientSecret == "" {
				val, err := readSecretFile(p.ClientSecretFile)
				if err != nil {
					return fmt.Errorf("seed.tenants[%d].sso_providers[%d].client_secret_file: %w", i, j, err)
				}
				p.ClientSecret = val
			}
		}
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
