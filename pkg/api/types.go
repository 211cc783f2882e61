package api

import "time"

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

// Role is the coarse-grained role of an identity within its tenant.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Subscription tiers
// ---------------------------------------------------------------------------

// Tier is a tenant's subscription level. Tiers are ordered:
// starter < professional < enterprise.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// tierRanks assigns each tier its position in the ordering. Unknown tiers
// rank below starter so a corrupt value never grants access.
var tierRanks = map[Tier]int{
	TierStarter:      1,
	TierProfessional: 2,
	TierEnterprise:   3,
}

// Rank returns the tier's position in the ordering, or 0 for unknown tiers.
func (t Tier) Rank() int {
	return tierRanks[t]
}

// AtLeast reports whether t ranks greater than or equal to required.
func (t Tier) AtLeast(required Tier) bool {
	return t.Rank() >= required.Rank()
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// Identity is a tenant-scoped user as held by the identity store. The auth
// core treats it as a read-through snapshot valid for one request; mutations
// go through explicit store operations only.
type Identity struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`

	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`

	// Admin short-circuits every permission and role check.
	Admin bool `json:"admin"`

	Active        bool `json:"active"`
	EmailVerified bool `json:"email_verified"`

	// PasswordHash is empty for SSO-only identities.
	PasswordHash string `json:"-"`

	// Failed-login accounting, owned by the store.
	FailedLogins int        `json:"-"`
	LockedUntil  *time.Time `json:"-"`

	// SSO binding. Both fields are set together or not at all.
	SSOProvider string `json:"sso_provider,omitempty"`
	SSOSubject  string `json:"sso_subject,omitempty"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}

// Locked reports whether the identity is locked out at the given instant.
func (id *Identity) Locked(now time.Time) bool {
	return id.LockedUntil != nil && id.LockedUntil.After(now)
}

// LockoutRemaining returns the remaining lockout duration at now,
// or zero if the identity is not locked.
func (id *Identity) LockoutRemaining(now time.Time) time.Duration {
	if !id.Locked(now) {
		return 0
	}
	return id.LockedUntil.Sub(now)
}

// ---------------------------------------------------------------------------
// Tenant
// ---------------------------------------------------------------------------

// Tenant is an isolated customer organization. All identities, API keys,
// and audit events are scoped to exactly one tenant.
type Tenant struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`

	Tier   Tier `json:"tier"`
	Active bool `json:"active"`

	// Features holds explicit per-tenant overrides on top of the
	// tier-implied feature set. A true value grants a feature the tier
	// does not imply; a false value revokes a tier-implied one.
	Features map[string]bool `json:"features,omitempty"`

	// Per-tier numeric limits.
	MaxUsers    int `json:"max_users"`
	MaxAPICalls int `json:"max_api_calls"`

	CreatedAt time.Time `json:"created_at"`
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// APIKey is a long-lived machine credential. The raw key is shown exactly
// once at creation time; only its SHA-256 hex hash is persisted.
type APIKey struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`

	KeyHash string `json:"-"`

	Permissions []string `json:"permissions"`

	// HourlyQuota caps successful authentications per trailing hour.
	// Zero means unlimited.
	HourlyQuota int `json:"hourly_quota"`

	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	UsageCount int64      `json:"usage_count"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the key is past its expiry at the given instant.
// Keys without an expiry never expire.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
