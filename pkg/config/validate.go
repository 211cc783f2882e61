package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	// storage.type must be a known value.
	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	// If storage.type is "postgres", DSN or DSNFile must be set.
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	// token.secret is required; tokens cannot be issued without it.
	if c.Token.Secret == "" && c.Token.SecretFile == "" {
		errs = append(errs, fmt.Errorf("token.secret or token.secret_file is required"))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, fmt.Errorf("token.ttl must be > 0, got %s", c.Token.TTL))
	}

	// ratelimit.tiers keys must name known tiers.
	for tier := range c.RateLimit.Tiers {
		switch tier {
		case "starter", "professional", "enterprise":
			// valid
		default:
			errs = append(errs, fmt.Errorf("ratelimit.tiers contains unknown tier %q", tier))
		}
	}

	// audit.sink must be a known value.
	switch c.Audit.Sink {
	case "log", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("audit.sink must be \"log\" or \"postgres\", got %q", c.Audit.Sink))
	}
	if c.Audit.Sink == "postgres" && c.Storage.Type != "postgres" {
		errs = append(errs, fmt.Errorf("audit.sink \"postgres\" requires storage.type \"postgres\""))
	}

	// seed tenants need a slug and a known tier.
	for i, t := range c.Seed.Tenants {
		if t.Slug == "" {
			errs = append(errs, fmt.Errorf("seed.tenants[%d].slug is required", i))
		}
		switch t.Tier {
		case "", "starter", "professional", "enterprise":
			// valid; empty defaults to starter
		default:
			errs = append(errs, fmt.Errorf("seed.tenants[%d].tier is unknown: %q", i, t.Tier))
		}
	}

	return errors.Join(errs...)
}
