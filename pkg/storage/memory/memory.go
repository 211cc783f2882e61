// Package memory provides an in-memory implementation of the storage
// interfaces for testing and lightweight deployments. Records are lost
// when the process restarts.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/storage"
)

// Store is an in-memory IdentityStore, APIKeyStore, and ProviderConfigStore.
// All methods return copies so callers never share mutable state with the
// store.
type Store struct {
	mu        sync.RWMutex
	users     map[string]*api.Identity           // user ID -> user
	tenants   map[string]*api.Tenant             // tenant ID -> tenant
	keys      map[string]*api.APIKey             // key ID -> key
	providers map[string]*storage.ProviderConfig // tenantID/provider -> config
}

// Compile-time interface checks.
var (
	_ storage.IdentityStore       = (*Store)(nil)
	_ storage.APIKeyStore         = (*Store)(nil)
	_ storage.ProviderConfigStore = (*Store)(nil)
)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:     make(map[string]*api.Identity),
		tenants:   make(map[string]*api.Tenant),
		keys:      make(map[string]*api.APIKey),
		providers: make(map[string]*storage.ProviderConfig),
	}
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

// AddTenant seeds a tenant. Used by configuration bootstrap and tests.
func (s *Store) AddTenant(t *api.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
}

// GetTenant returns a tenant by ID.
func (s *Store) GetTenant(_ context.Context, id string) (*api.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// GetTenantBySlug returns a tenant by its slug.
func (s *Store) GetTenantBySlug(_ context.Context, slug string) (*api.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser persists a new user. Returns ErrConflict when the
// (tenant, email) pair already exists.
func (s *Store) CreateUser(_ context.Context, id *api.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := api.NormalizeEmail(id.Email)
	for _, u := range s.users {
		if u.TenantID == id.TenantID && api.NormalizeEmail(u.Email) == email {
			return storage.ErrConflict
		}
	}

	cp := *id
	s.users[id.ID] = &cp
	return nil
}

// GetUserByEmail returns a user by (tenant, email).
func (s *Store) GetUserByEmail(_ context.Context, tenantID, email string) (*api.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = api.NormalizeEmail(email)
	for _, u := range s.users {
		if u.TenantID == tenantID && api.NormalizeEmail(u.Email) == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(_ context.Context, id string) (*api.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// FindUserByEmail looks a user up by email across all tenants. Ambiguous
// matches (same email in several tenants) report ErrNotFound, forcing the
// caller to supply a tenant slug.
func (s *Store) FindUserByEmail(_ context.Context, email string) (*api.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = api.NormalizeEmail(email)
	var found *api.Identity
	for _, u := range s.users {
		if api.NormalizeEmail(u.Email) == email {
			if found != nil {
				return nil, storage.ErrNotFound
			}
			found = u
		}
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	cp := *found
	return &cp, nil
}

// FindUserBySSOSubject returns the user bound to (provider, subject) within
// a tenant.
func (s *Store) FindUserBySSOSubject(_ context.Context, tenantID, provider, subject string) (*api.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.TenantID == tenantID && u.SSOProvider == provider && u.SSOSubject == subject {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// UpdateSSOBinding attaches an SSO binding to an existing user.
func (s *Store) UpdateSSOBinding(_ context.Context, userID, provider, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.SSOProvider = provider
	u.SSOSubject = subject
	u.EmailVerified = true
	return nil
}

// UpdateFailedAttempts records failed-login accounting for a user.
func (s *Store) UpdateFailedAttempts(_ context.Context, userID string, count int, lockedUntil *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.FailedLogins = count
	u.LockedUntil = lockedUntil
	return nil
}

// UpdateLastLogin records a successful login.
func (s *Store) UpdateLastLogin(_ context.Context, userID, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	t := at
	u.LastLoginAt = &t
	u.LastLoginIP = ip
	return nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateKey persists a new API key record.
func (s *Store) CreateKey(_ context.Context, key *api.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key.ID]; exists {
		return storage.ErrConflict
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

// GetKeyByHash returns the key record whose stored hash matches.
func (s *Store) GetKeyByHash(_ context.Context, hash string) (*api.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range s.keys {
		if k.KeyHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// RecordKeyUsage increments the usage counter and stamps last-used.
func (s *Store) RecordKeyUsage(_ context.Context, keyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok {
		return storage.ErrNotFound
	}
	k.UsageCount++
	t := at
	k.LastUsedAt = &t
	return nil
}

// SetKeyActive toggles a key's active flag. Test and admin helper.
func (s *Store) SetKeyActive(keyID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[keyID]; ok {
		k.Active = active
	}
}

// ---------------------------------------------------------------------------
// SSO provider configuration
// ---------------------------------------------------------------------------

// AddProviderConfig seeds an SSO provider configuration for a tenant.
func (s *Store) AddProviderConfig(tenantID string, cfg *storage.ProviderConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.providers[providerKey(tenantID, cfg.Provider)] = &cp
}

// GetProviderConfig returns the SSO configuration for (tenant, provider).
func (s *Store) GetProviderConfig(_ context.Context, tenantID, provider string) (*storage.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.providers[providerKey(tenantID, provider)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func providerKey(tenantID, provider string) string {
	return tenantID + "/" + strings.ToLower(provider)
}
