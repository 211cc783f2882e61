package storage

import (
	"context"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
)

// IdentityStore is the narrow interface over tenant/user persistence.
// All lookups return ErrNotFound when no record matches; callers translate
// that into the appropriate typed failure.
type IdentityStore interface {
	// GetUserByEmail returns the user with the given (normalized) email
	// within one tenant.
	GetUserByEmail(ctx context.Context, tenantID, email string) (*api.Identity, error)

	// GetUserByID returns a user by its ID, unscoped.
	GetUserByID(ctx context.Context, id string) (*api.Identity, error)

	// FindUserByEmail looks a user up by email across all tenants. Used for
	// the backward-compatible login flow when no tenant slug is supplied;
	// returns ErrNotFound if the email is absent or ambiguous.
	FindUserByEmail(ctx context.Context, email string) (*api.Identity, error)

	// FindUserBySSOSubject returns the user bound to (provider, subject)
	// within a tenant.
	FindUserBySSOSubject(ctx context.Context, tenantID, provider, subject string) (*api.Identity, error)

	// CreateUser persists a new user. Returns ErrConflict if the
	// (tenant, email) pair already exists.
	CreateUser(ctx context.Context, id *api.Identity) error

	// UpdateSSOBinding attaches an SSO (provider, subject) pair to an
	// existing user and marks the email verified.
	UpdateSSOBinding(ctx context.Context, userID, provider, subject string) error

	// UpdateFailedAttempts records the failed-login counter and optional
	// lockout deadline for a user.
	UpdateFailedAttempts(ctx context.Context, userID string, count int, lockedUntil *time.Time) error

	// UpdateLastLogin records a successful login's time and client IP.
	UpdateLastLogin(ctx context.Context, userID, ip string, at time.Time) error

	// GetTenant returns a tenant by ID.
	GetTenant(ctx context.Context, id string) (*api.Tenant, error)

	// GetTenantBySlug returns a tenant by its slug.
	GetTenantBySlug(ctx context.Context, slug string) (*api.Tenant, error)
}

// APIKeyStore persists API key records. The raw key never reaches the
// store; lookups are by SHA-256 hex hash.
type APIKeyStore interface {
	// GetKeyByHash returns the key record whose stored hash matches.
	GetKeyByHash(ctx context.Context, hash string) (*api.APIKey, error)

	// CreateKey persists a new key record.
	CreateKey(ctx context.Context, key *api.APIKey) error

	// RecordKeyUsage increments the usage counter and sets the last-used
	// time. Callers treat failures as best-effort: a failed usage write
	// must not fail the authentication itself.
	RecordKeyUsage(ctx context.Context, keyID string, at time.Time) error
}

// ProviderConfig holds one tenant's configuration for a single SSO provider.
type ProviderConfig struct {
	Provider string

	// OAuth2 settings.
	ClientID     string
	ClientSecret string

	// Endpoint overrides. Empty values fall back to the provider's
	// well-known endpoints; Okta requires an explicit domain.
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// SAML settings.
	SSOURL string

	// Certificate is the IdP signing certificate in PEM form, used when
	// signed-assertion verification is enabled.
	Certificate string
}

// ProviderConfigStore returns per-tenant SSO provider configuration.
type ProviderConfigStore interface {
	GetProviderConfig(ctx context.Context, tenantID, provider string) (*ProviderConfig, error)
}
