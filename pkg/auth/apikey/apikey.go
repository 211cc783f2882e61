// Package apikey validates hashed API keys and enforces per-key hourly
// quotas.
//
// Raw keys use a fixed "zt_" prefix followed by 32 random bytes in
// base64url. The raw key is shown exactly once at creation; only its
// SHA-256 hex hash is stored, so a key lookup reveals nothing if the store
// leaks.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/ratelimit"
	"github.com/rhuss/zutritt/pkg/storage"
)

// KeyPrefix is the fixed format prefix every raw key carries.
const KeyPrefix = "zt_"

// rawKeyLen is the length of KeyPrefix + base64url(32 bytes).
const rawKeyLen = len(KeyPrefix) + 43

// Generate mints a new raw API key and its storable hash. The raw key is
// returned exactly once and never persisted.
func Generate() (raw, hash string) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	raw = KeyPrefix + base64.RawURLEncoding.EncodeToString(b)
	return raw, HashKey(raw)
}

// HashKey returns the SHA-256 hex hash of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ValidFormat reports whether raw has the expected prefix and length.
func ValidFormat(raw string) bool {
	return strings.HasPrefix(raw, KeyPrefix) && len(raw) == rawKeyLen
}

// Auditor receives audit events. Satisfied by *audit.Dispatcher.
type Auditor interface {
	Emit(ev audit.Event)
}

// Authenticator validates raw API keys against the key store and enforces
// hourly quotas through the rate limiter.
type Authenticator struct {
	keys    storage.APIKeyStore
	tenants storage.IdentityStore
	limiter ratelimit.Limiter
	audit   Auditor
	logger  *slog.Logger

	now func() time.Time // injectable clock for tests
}

// New creates an API key authenticator. The limiter may be nil when no
// quota enforcement is wanted.
func New(keys storage.APIKeyStore, tenants storage.IdentityStore, limiter ratelimit.Limiter, auditor Auditor, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		keys:    keys,
		tenants: tenants,
		limiter: limiter,
		audit:   auditor,
		logger:  logger,
		now:     time.Now,
	}
}

// Authenticate validates a raw key and returns the key record and its
// owning tenant. Failure codes are distinct per cause: invalid format and
// unknown hash collapse to API_KEY_INVALID; disabled, expired, inactive
// tenant, and quota exhaustion each carry their own code. No failure path
// increments the usage counter.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (*api.APIKey, *api.Tenant, error) {
	now := a.now()

	// Fail fast on malformed input before touching the store.
	if !ValidFormat(rawKey) {
		a.emitRejected("", "", "invalid_format")
		return nil, nil, api.NewError(api.CodeAPIKeyInvalid, "invalid API key")
	}

	key, err := a.keys.GetKeyByHash(ctx, HashKey(rawKey))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.emitRejected("", "", "unknown_key")
			return nil, nil, api.NewError(api.CodeAPIKeyInvalid, "invalid API key")
		}
		return nil, nil, api.Internal(err)
	}

	if !key.Active {
		a.emitRejected(key.TenantID, key.ID, "disabled")
		return nil, nil, api.NewError(api.CodeAPIKeyDisabled, "API key is disabled")
	}
	if key.Expired(now) {
		a.emitRejected(key.TenantID, key.ID, "expired")
		return nil, nil, api.NewError(api.CodeAPIKeyExpired, "API key has expired")
	}

	tenant, err := a.tenants.GetTenant(ctx, key.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.emitRejected(key.TenantID, key.ID, "tenant_missing")
			return nil, nil, api.NewError(api.CodeTenantNotFound, "tenant not found")
		}
		return nil, nil, api.Internal(err)
	}
	if !tenant.Active {
		a.emitRejected(key.TenantID, key.ID, "tenant_inactive")
		return nil, nil, api.NewError(api.CodeTenantInactive, "tenant is deactivated")
	}

	// Quota gate runs before usage accounting so a rejected request is
	// never billed.
	if key.HourlyQuota > 0 && a.limiter != nil {
		d, err := a.limiter.Admit(ctx, "apikey:"+key.ID, key.HourlyQuota, time.Hour)
		if err != nil {
			// Fail open on limiter infrastructure failure; the failover
			// limiter already degraded as far as it could.
			a.logger.Warn("quota check unavailable, admitting", "key", key.ID, "error", err)
		} else if !d.Allowed {
			retry := int(d.ResetAt.Sub(now).Seconds())
			if retry < 1 {
				retry = 1
			}
			a.emitRejected(key.TenantID, key.ID, "quota_exceeded")
			return nil, nil, api.NewRetryableError(api.CodeAPIKeyQuotaExceeded, "hourly quota exceeded", retry)
		}
	}

	// Usage accounting is best-effort: a failed write must not fail the
	// authentication itself.
	if err := a.keys.RecordKeyUsage(ctx, key.ID, now); err != nil {
		a.logger.Warn("recording key usage", "key", key.ID, "error", err)
	}

	a.audit.Emit(audit.Event{
		TenantID:     key.TenantID,
		Type:         audit.EventAPIKeyAccepted,
		ResourceType: "api_key",
		ResourceID:   key.ID,
	})
	return key, tenant, nil
}

func (a *Authenticator) emitRejected(tenantID, keyID, reason string) {
	a.audit.Emit(audit.Event{
		TenantID:     tenantID,
		Type:         audit.EventAPIKeyRejected,
		ResourceType: "api_key",
		ResourceID:   keyID,
		Detail:       map[string]any{"reason": reason},
	})
}
