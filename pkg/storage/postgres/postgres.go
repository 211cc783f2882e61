// Package postgres provides a PostgreSQL implementation of the storage
// interfaces and an audit sink. It uses pgx/v5 for connection pooling and
// JSONB for feature flags and audit detail.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/storage"
)

// Store is a PostgreSQL-backed identity, API key, and provider config store.
// It also implements audit.Sink for durable audit retention.
type Store struct {
	pool *pgxpool.Pool
}

// Compile-time interface checks.
var (
	_ storage.IdentityStore       = (*Store)(nil)
	_ storage.APIKeyStore         = (*Store)(nil)
	_ storage.ProviderConfigStore = (*Store)(nil)
	_ audit.Sink                  = (*Store)(nil)
)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ---------------------------------------------------------------------------
// Tenants
// ---------------------------------------------------------------------------

const tenantColumns = "id, slug, tier, active, features, max_users, max_api_calls, created_at"

// CreateTenant persists a new tenant.
func (s *Store) CreateTenant(ctx context.Context, t *api.Tenant) error {
	features, err := json.Marshal(featuresOrEmpty(t.Features))
	if err != nil {
		return fmt.Errorf("marshaling features: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tenants (id, slug, tier, active, features, max_users, max_api_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Slug, string(t.Tier), t.Active, features, t.MaxUsers, t.MaxAPICalls, createdOrNow(t.CreatedAt))
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

// GetTenant returns a tenant by ID.
func (s *Store) GetTenant(ctx context.Context, id string) (*api.Tenant, error) {
	return s.scanTenant(s.pool.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE id = $1", id))
}

// GetTenantBySlug returns a tenant by its slug.
func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (*api.Tenant, error) {
	return s.scanTenant(s.pool.QueryRow(ctx,
		"SELECT "+tenantColumns+" FROM tenants WHERE slug = $1", slug))
}

func (s *Store) scanTenant(row pgx.Row) (*api.Tenant, error) {
	var (
		t        api.Tenant
		tier     string
		features []byte
	)
	err := row.Scan(&t.ID, &t.Slug, &tier, &t.Active, &features, &t.MaxUsers, &t.MaxAPICalls, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}

	t.Tier = api.Tier(tier)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &t.Features); err != nil {
			return nil, fmt.Errorf("unmarshaling features: %w", err)
		}
	}
	return &t, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = `id, tenant_id, email, role, permissions, admin, active, email_verified,
	password_hash, failed_logins, locked_until, sso_provider, sso_subject,
	last_login_at, last_login_ip, created_at`

// CreateUser persists a new user.
func (s *Store) CreateUser(ctx context.Context, u *api.Identity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, tenant_id, email, role, permissions, admin, active, email_verified,
			password_hash, failed_logins, locked_until, sso_provider, sso_subject, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		u.ID, u.TenantID, api.NormalizeEmail(u.Email), string(u.Role), permsOrEmpty(u.Permissions),
		u.Admin, u.Active, u.EmailVerified, u.PasswordHash, u.FailedLogins, u.LockedUntil,
		u.SSOProvider, u.SSOSubject, createdOrNow(u.CreatedAt))
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

// GetUserByEmail returns a user by (tenant, email).
func (s *Store) GetUserByEmail(ctx context.Context, tenantID, email string) (*api.Identity, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE tenant_id = $1 AND email = $2",
		tenantID, api.NormalizeEmail(email)))
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*api.Identity, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// FindUserByEmail looks a user up across tenants. An email present in more
// than one tenant is treated as not found, forcing a tenant-scoped login.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*api.Identity, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1 LIMIT 2",
		api.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []*api.Identity
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(users) != 1 {
		return nil, storage.ErrNotFound
	}
	return users[0], nil
}

// FindUserBySSOSubject returns the user bound to (provider, subject) within
// a tenant.
func (s *Store) FindUserBySSOSubject(ctx context.Context, tenantID, provider, subject string) (*api.Identity, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users WHERE tenant_id = $1 AND sso_provider = $2 AND sso_subject = $3",
		tenantID, provider, subject))
}

// UpdateSSOBinding attaches an SSO binding and marks the email verified.
func (s *Store) UpdateSSOBinding(ctx context.Context, userID, provider, subject string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET sso_provider = $2, sso_subject = $3, email_verified = TRUE WHERE id = $1",
		userID, provider, subject)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateFailedAttempts records failed-login accounting.
func (s *Store) UpdateFailedAttempts(ctx context.Context, userID string, count int, lockedUntil *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET failed_logins = $2, locked_until = $3 WHERE id = $1",
		userID, count, lockedUntil)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateLastLogin records a successful login.
func (s *Store) UpdateLastLogin(ctx context.Context, userID, ip string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE users SET last_login_at = $2, last_login_ip = $3 WHERE id = $1",
		userID, at, ip)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) scanUser(row pgx.Row) (*api.Identity, error) {
	var (
		u    api.Identity
		role string
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &role, &u.Permissions, &u.Admin, &u.Active,
		&u.EmailVerified, &u.PasswordHash, &u.FailedLogins, &u.LockedUntil,
		&u.SSOProvider, &u.SSOSubject, &u.LastLoginAt, &u.LastLoginIP, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	u.Role = api.Role(role)
	return &u, nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

const keyColumns = `id, tenant_id, name, key_hash, permissions, hourly_quota, active,
	expires_at, usage_count, last_used_at, created_at`

// CreateKey persists a new API key record.
func (s *Store) CreateKey(ctx context.Context, k *api.APIKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO api_keys (id, tenant_id, name, key_hash, permissions, hourly_quota, active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		k.ID, k.TenantID, k.Name, k.KeyHash, permsOrEmpty(k.Permissions),
		k.HourlyQuota, k.Active, k.ExpiresAt, createdOrNow(k.CreatedAt))
	if isUniqueViolation(err) {
		return storage.ErrConflict
	}
	return err
}

// GetKeyByHash returns the key record whose stored hash matches.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*api.APIKey, error) {
	var k api.APIKey
	err := s.pool.QueryRow(ctx,
		"SELECT "+keyColumns+" FROM api_keys WHERE key_hash = $1", hash).
		Scan(&k.ID, &k.TenantID, &k.Name, &k.KeyHash, &k.Permissions, &k.HourlyQuota,
			&k.Active, &k.ExpiresAt, &k.UsageCount, &k.LastUsedAt, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key: %w", err)
	}
	return &k, nil
}

// RecordKeyUsage increments the usage counter atomically server-side.
func (s *Store) RecordKeyUsage(ctx context.Context, keyID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = $2 WHERE id = $1",
		keyID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// SSO provider configuration
// ---------------------------------------------------------------------------

// UpsertProviderConfig creates or replaces a tenant's SSO provider config.
func (s *Store) UpsertProviderConfig(ctx context.Context, tenantID string, cfg *storage.ProviderConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sso_provider_configs (tenant_id, provider, client_id, client_secret, auth_url, token_url, userinfo_url, sso_url, certificate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			auth_url = EXCLUDED.auth_url,
			token_url = EXCLUDED.token_url,
			userinfo_url = EXCLUDED.userinfo_url,
			sso_url = EXCLUDED.sso_url,
			certificate = EXCLUDED.certificate`,
		tenantID, strings.ToLower(cfg.Provider), cfg.ClientID, cfg.ClientSecret,
		cfg.AuthURL, cfg.TokenURL, cfg.UserInfoURL, cfg.SSOURL, cfg.Certificate)
	return err
}

// GetProviderConfig returns the SSO configuration for (tenant, provider).
func (s *Store) GetProviderConfig(ctx context.Context, tenantID, provider string) (*storage.ProviderConfig, error) {
	var cfg storage.ProviderConfig
	err := s.pool.QueryRow(ctx, `
		SELECT provider, client_id, client_secret, auth_url, token_url, userinfo_url, sso_url, certificate
		FROM sso_provider_configs WHERE tenant_id = $1 AND provider = $2`,
		tenantID, strings.ToLower(provider)).
		Scan(&cfg.Provider, &cfg.ClientID, &cfg.ClientSecret, &cfg.AuthURL,
			&cfg.TokenURL, &cfg.UserInfoURL, &cfg.SSOURL, &cfg.Certificate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning provider config: %w", err)
	}
	return &cfg, nil
}

// ---------------------------------------------------------------------------
// Audit sink
// ---------------------------------------------------------------------------

// Record persists an audit event. Implements audit.Sink.
func (s *Store) Record(ctx context.Context, ev audit.Event) error {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("marshaling detail: %w", err)
	}
	if ev.Detail == nil {
		detail = []byte("{}")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_events (id, tenant_id, event_type, actor_id, resource_type, resource_id, client_ip, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.TenantID, ev.Type, ev.ActorID, ev.ResourceType, ev.ResourceID, ev.ClientIP, detail, ev.Time)
	return err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func permsOrEmpty(perms []string) []string {
	if perms == nil {
		return []string{}
	}
	return perms
}

func featuresOrEmpty(features map[string]bool) map[string]bool {
	if features == nil {
		return map[string]bool{}
	}
	return features
}

func createdOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
