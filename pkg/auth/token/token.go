// Package token issues, verifies, and refreshes signed session tokens.
//
// A session token is a self-contained HS256-signed claim set covering
// identity, tenant, role, and permissions with a fixed validity window.
// Verification is a pure function of the token, the signing secret, and the
// current time; no store lookup is involved. Refresh re-resolves the
// identity and tenant from the store so a revoked or demoted user cannot
// refresh into an equally privileged token.
//
// Secret rotation is a deployment concern: during a transition both the
// current and previous secret are accepted for verification, while
// issuance always uses the current one.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/storage"
)

// DefaultTTL is the validity window embedded at issuance.
const DefaultTTL = 8 * time.Hour

// Claims is the immutable claim set carried by a session token.
type Claims struct {
	UserID      string   `json:"uid"`
	TenantID    string   `json:"tid"`
	TenantSlug  string   `json:"slug"`
	Role        api.Role `json:"role"`
	Permissions []string `json:"perms,omitempty"`
	Admin       bool     `json:"admin,omitempty"`

	jwtlib.RegisteredClaims
}

// Config holds the token service configuration.
type Config struct {
	// Secret signs newly issued tokens and is tried first on verification.
	Secret string

	// PreviousSecret, if set, is also accepted on verification. Used
	// during secret rotation so unexpired tokens signed with the old
	// secret remain valid.
	PreviousSecret string

	// TTL is the validity window from issue time. Default: 8 hours.
	TTL time.Duration

	// Issuer is the iss claim. Default: "zutritt".
	Issuer string
}

func (c *Config) applyDefaults() {
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.Issuer == "" {
		c.Issuer = "zutritt"
	}
}

// Service issues and verifies session tokens.
type Service struct {
	cfg Config

	now func() time.Time // injectable clock for tests
}

// New creates a token service. The signing secret is required.
func New(cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("token signing secret is required")
	}
	cfg.applyDefaults()
	return &Service{cfg: cfg, now: time.Now}, nil
}

// Issue signs a fresh token for the identity/tenant pair. The claims embed
// a validity window of TTL from issue time and are immutable once signed.
func (s *Service) Issue(id *api.Identity, tenant *api.Tenant) (string, *Claims, error) {
	now := s.now()

	claims := &Claims{
		UserID:      id.ID,
		TenantID:    tenant.ID,
		TenantSlug:  tenant.Slug,
		Role:        id.Role,
		Permissions: id.Permissions,
		Admin:       id.Admin,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   id.ID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.cfg.TTL)),
		},
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).
		SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	return signed, claims, nil
}

// Verify validates signature, issuer, and expiry, and returns the claims.
// It is pure: no I/O, only the token and the current time. Failures are
// typed: TOKEN_EXPIRED for an otherwise valid but expired token,
// TOKEN_INVALID for everything else.
func (s *Service) Verify(tokenStr string) (*Claims, error) {
	secrets := []string{s.cfg.Secret}
	if s.cfg.PreviousSecret != "" {
		secrets = append(secrets, s.cfg.PreviousSecret)
	}

	var lastErr error
	for _, secret := range secrets {
		claims := &Claims{}
		_, err := jwtlib.ParseWithClaims(tokenStr, claims,
			func(t *jwtlib.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			},
			jwtlib.WithValidMethods([]string{"HS256"}),
			jwtlib.WithIssuer(s.cfg.Issuer),
			jwtlib.WithTimeFunc(s.now),
		)
		if err == nil {
			if claims.UserID == "" || claims.TenantID == "" {
				return nil, api.NewError(api.CodeTokenInvalid, "token missing identity claims")
			}
			return claims, nil
		}

		// An expired token is a terminal outcome regardless of which
		// secret signed it.
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, api.NewError(api.CodeTokenExpired, "token has expired")
		}
		lastErr = err
	}

	_ = lastErr // detail logged upstream, never returned to the caller
	return nil, api.NewError(api.CodeTokenInvalid, "token is invalid")
}

// Refresh verifies the presented token, re-resolves the identity and tenant
// from the store, and issues a fresh token with a new expiry. The store
// round trip ensures a revoked, deactivated, or demoted user cannot extend
// its old privileges.
func (s *Service) Refresh(ctx context.Context, store storage.IdentityStore, tokenStr string) (string, *Claims, error) {
	claims, err := s.Verify(tokenStr)
	if err != nil {
		return "", nil, err
	}

	id, err := store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, api.NewError(api.CodeIdentityNotFound, "identity no longer exists")
		}
		return "", nil, api.Internal(err)
	}
	if !id.Active {
		return "", nil, api.NewError(api.CodeAccountInactive, "account is deactivated")
	}

	tenant, err := store.GetTenant(ctx, claims.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil, api.NewError(api.CodeTenantNotFound, "tenant no longer exists")
		}
		return "", nil, api.Internal(err)
	}
	if !tenant.Active {
		return "", nil, api.NewError(api.CodeTenantInactive, "tenant is deactivated")
	}

	return s.Issue(id, tenant)
}
