// Package password verifies email+password credentials and manages
// failed-attempt counters and account lockout.
//
// Every outcome, success or failure, is recorded as an audit event before
// the call returns. Expected failures never escape as generic errors; the
// caller receives exactly one typed failure code. Unknown email and wrong
// password collapse to the same INVALID_CREDENTIALS code so responses never
// enable account enumeration.
package password

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/storage"
)

const (
	// LockoutThreshold is the number of consecutive failed attempts after
	// which the account locks.
	LockoutThreshold = 5

	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration = 15 * time.Minute
)

// Hasher abstracts the one-way password hash. The gateway does not select
// the algorithm; it consumes a vetted hash-and-verify pair.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// BcryptHasher implements Hasher with bcrypt.
type BcryptHasher struct {
	// Cost is the bcrypt work factor. Zero uses bcrypt.DefaultCost.
	Cost int
}

// Hash returns the bcrypt hash of the password.
func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether the password matches the hash.
func (h BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Auditor receives audit events. Satisfied by *audit.Dispatcher.
type Auditor interface {
	Emit(ev audit.Event)
}

// Request carries one login attempt.
type Request struct {
	// TenantSlug scopes the lookup. When empty, the email is resolved
	// across tenants for backward-compatible single-user flows.
	TenantSlug string
	Email      string
	Password   string
	ClientIP   string
}

// Authenticator verifies email+password credentials against the identity
// store.
type Authenticator struct {
	store  storage.IdentityStore
	hasher Hasher
	audit  Auditor
	logger *slog.Logger

	now func() time.Time // injectable clock for tests
}

// New creates a credential authenticator.
func New(store storage.IdentityStore, hasher Hasher, auditor Auditor, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:  store,
		hasher: hasher,
		audit:  auditor,
		logger: logger,
		now:    time.Now,
	}
}

// Login authenticates one email+password attempt. On success it resets the
// failed-attempt counter and records last-login metadata; on a wrong
// password it increments the counter and locks the account at the
// threshold. Failed-attempt accounting is at-least-once: a cancelled
// request never rolls an increment back.
func (a *Authenticator) Login(ctx context.Context, req Request) (*api.Identity, *api.Tenant, error) {
	now := a.now()
	email := api.NormalizeEmail(req.Email)

	if verr := api.ValidateEmail(email); verr != nil {
		a.emitFailure(req, "", "", "malformed_email")
		return nil, nil, verr
	}

	user, tenant, err := a.resolve(ctx, req.TenantSlug, email)
	if err != nil {
		a.emitFailure(req, "", "", string(api.AsError(err).Code))
		return nil, nil, err
	}

	if !tenant.Active {
		a.emitFailure(req, tenant.ID, user.ID, "tenant_inactive")
		return nil, nil, api.NewError(api.CodeTenantInactive, "tenant is deactivated")
	}
	if !user.Active {
		a.emitFailure(req, tenant.ID, user.ID, "account_inactive")
		return nil, nil, api.NewError(api.CodeAccountInactive, "account is deactivated")
	}

	// Lockout gate runs before password verification so a locked account
	// reveals nothing about the password's correctness.
	if user.Locked(now) {
		retry := int(user.LockoutRemaining(now).Seconds())
		a.emitFailure(req, tenant.ID, user.ID, "locked")
		return nil, nil, api.NewRetryableError(api.CodeAccountLocked, "account is locked", retry)
	}

	if user.PasswordHash == "" || !a.hasher.Verify(user.PasswordHash, req.Password) {
		a.recordFailedAttempt(ctx, req, user, tenant, now)
		return nil, nil, api.NewError(api.CodeInvalidCredentials, "invalid email or password")
	}

	// Success: reset accounting and stamp the login.
	if user.FailedLogins > 0 || user.LockedUntil != nil {
		if err := a.store.UpdateFailedAttempts(ctx, user.ID, 0, nil); err != nil {
			a.logger.Error("resetting failed attempts", "user", user.ID, "error", err)
		}
		user.FailedLogins = 0
		user.LockedUntil = nil
	}
	if err := a.store.UpdateLastLogin(ctx, user.ID, req.ClientIP, now); err != nil {
		a.logger.Error("recording last login", "user", user.ID, "error", err)
	}

	a.audit.Emit(audit.Event{
		TenantID: tenant.ID,
		Type:     audit.EventLoginSuccess,
		ActorID:  user.ID,
		ClientIP: req.ClientIP,
		Detail:   map[string]any{"method": "password"},
	})
	return user, tenant, nil
}

// resolve finds the tenant and user for this attempt. Unknown emails map to
// INVALID_CREDENTIALS; only an explicitly named unknown tenant slug maps to
// TENANT_NOT_FOUND.
func (a *Authenticator) resolve(ctx context.Context, slug, email string) (*api.Identity, *api.Tenant, error) {
	if slug == "" {
		user, err := a.store.FindUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil, api.NewError(api.CodeInvalidCredentials, "invalid email or password")
			}
			return nil, nil, api.Internal(err)
		}
		tenant, err := a.store.GetTenant(ctx, user.TenantID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, nil, api.NewError(api.CodeTenantNotFound, "tenant not found")
			}
			return nil, nil, api.Internal(err)
		}
		return user, tenant, nil
	}

	tenant, err := a.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, api.NewError(api.CodeTenantNotFound, "tenant not found")
		}
		return nil, nil, api.Internal(err)
	}

	user, err := a.store.GetUserByEmail(ctx, tenant.ID, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, api.NewError(api.CodeInvalidCredentials, "invalid email or password")
		}
		return nil, nil, api.Internal(err)
	}
	return user, tenant, nil
}

// recordFailedAttempt increments the counter and locks the account when the
// threshold is reached.
func (a *Authenticator) recordFailedAttempt(ctx context.Context, req Request, user *api.Identity, tenant *api.Tenant, now time.Time) {
	count := user.FailedLogins + 1

	var lockedUntil *time.Time
	if count >= LockoutThreshold {
		until := now.Add(LockoutDuration)
		lockedUntil = &until
	}

	if err := a.store.UpdateFailedAttempts(ctx, user.ID, count, lockedUntil); err != nil {
		a.logger.Error("recording failed attempt", "user", user.ID, "error", err)
	}

	if lockedUntil != nil {
		a.audit.Emit(audit.Event{
			TenantID: tenant.ID,
			Type:     audit.EventAccountLocked,
			ActorID:  user.ID,
			ClientIP: req.ClientIP,
			Detail:   map[string]any{"failed_attempts": count, "locked_until": lockedUntil.UTC()},
		})
		return
	}

	a.emitFailure(req, tenant.ID, user.ID, "wrong_password")
}

func (a *Authenticator) emitFailure(req Request, tenantID, actorID, reason string) {
	a.audit.Emit(audit.Event{
		TenantID: tenantID,
		Type:     audit.EventLoginFailed,
		ActorID:  actorID,
		ClientIP: req.ClientIP,
		Detail:   map[string]any{"reason": reason},
	})
}
