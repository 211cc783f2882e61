// Package sso federates authentication to external identity providers over
// OAuth2/OIDC and SAML.
//
// The gateway models the handshake as a strict sequence: initiate creates a
// single-use state nonce and redirects to the provider; the callback consumes
// the nonce, exchanges the provider's proof for a normalized external
// identity, resolves or provisions the local identity, and issues a session
// token. Any failure is terminal for that handshake; the user restarts from
// initiate. Provider-side error detail is logged, never returned to the
// caller.
package sso

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/auth/token"
	"github.com/rhuss/zutritt/pkg/authz"
	"github.com/rhuss/zutritt/pkg/storage"
)

// ProviderSAML is the provider name for the SAML flow. All other supported
// names are OAuth2 providers from the provider table.
const ProviderSAML = "saml"

// Auditor receives audit events. Satisfied by *audit.Dispatcher.
type Auditor interface {
	Emit(ev audit.Event)
}

// Options tunes gateway behavior beyond its required collaborators.
type Options struct {
	// RequireSignedAssertions rejects SAML assertions without an embedded
	// signature matching the tenant's configured certificate.
	RequireSignedAssertions bool

	// HTTPClient overrides the outbound client used for provider calls.
	HTTPClient *http.Client
}

// Gateway orchestrates SSO handshakes against per-tenant provider
// configuration.
type Gateway struct {
	store      storage.IdentityStore
	providers  storage.ProviderConfigStore
	states     StateStore
	tokens     *token.Service
	audit      Auditor
	logger     *slog.Logger
	httpClient *http.Client

	requireSignedAssertions bool

	now func() time.Time // injectable clock for tests
}

// New creates an SSO gateway.
func New(store storage.IdentityStore, providers storage.ProviderConfigStore, states StateStore, tokens *token.Service, auditor Auditor, logger *slog.Logger, opts Options) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: exchangeTimeout}
	}
	return &Gateway{
		store:                   store,
		providers:               providers,
		states:                  states,
		tokens:                  tokens,
		audit:                   auditor,
		logger:                  logger,
		httpClient:              client,
		requireSignedAssertions: opts.RequireSignedAssertions,
		now:                     time.Now,
	}
}

// Supported reports whether the provider name is one the gateway can
// handshake with.
func Supported(provider string) bool {
	provider = strings.ToLower(provider)
	if provider == ProviderSAML {
		return true
	}
	_, ok := oauthProviders[provider]
	return ok
}

// Initiate starts a handshake for a tenant and returns the provider
// authorization URL to redirect the user to. The tenant must hold the SSO
// feature and have the provider configured.
func (g *Gateway) Initiate(ctx context.Context, tenantSlug, provider, redirectURI string) (string, error) {
	provider = strings.ToLower(provider)

	tenant, err := g.store.GetTenantBySlug(ctx, tenantSlug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", api.NewError(api.CodeTenantNotFound, "tenant not found")
		}
		return "", api.Internal(err)
	}
	if !tenant.Active {
		return "", api.NewError(api.CodeTenantInactive, "tenant is deactivated")
	}
	if !authz.HasFeature(tenant, authz.FeatureSSO) {
		return "", api.NewError(api.CodeSSONotAvailable, "SSO is not available on this subscription")
	}
	if !Supported(provider) {
		return "", api.Errorf(api.CodeSSONotAvailable, "unsupported SSO provider %q", provider)
	}

	cfg, err := g.providers.GetProviderConfig(ctx, tenant.ID, provider)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", api.NewError(api.CodeSSONotAvailable, "SSO provider is not configured for this tenant")
		}
		return "", api.Internal(err)
	}

	state := NewState()
	hs := Handshake{
		State:       state,
		TenantID:    tenant.ID,
		Provider:    provider,
		RedirectURI: redirectURI,
		CreatedAt:   g.now(),
	}
	if err := g.states.Save(ctx, hs); err != nil {
		g.logger.Error("saving handshake state", "tenant", tenant.ID, "provider", provider, "error", err)
		return "", api.Internal(err)
	}

	authURL, err := g.authorizationURL(cfg, provider, state, redirectURI)
	if err != nil {
		g.logger.Error("building authorization URL", "tenant", tenant.ID, "provider", provider, "error", err)
		return "", api.Internal(err)
	}

	g.audit.Emit(audit.Event{
		TenantID: tenant.ID,
		Type:     audit.EventSSOInitiated,
		Detail:   map[string]any{"provider": provider},
	})
	return authURL, nil
}

// authorizationURL builds the redirect target: the OAuth2 authorization
// endpoint with the state parameter, or the SAML SSO URL carrying the state
// as RelayState.
func (g *Gateway) authorizationURL(cfg *storage.ProviderConfig, provider, state, redirectURI string) (string, error) {
	if provider == ProviderSAML {
		if cfg.SSOURL == "" {
			return "", errors.New("no SAML SSO URL configured")
		}
		u, err := url.Parse(cfg.SSOURL)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("RelayState", state)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	conf, err := oauthConfig(cfg, oauthProviders[provider], redirectURI)
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state), nil
}

// Callback carries the provider's response to the callback endpoint.
// OAuth2 providers supply Code and State; SAML supplies SAMLResponse and
// RelayState.
type Callback struct {
	Code         string
	State        string
	SAMLResponse string
	RelayState   string
	ClientIP     string
}

// HandleCallback completes a handshake: consumes the state, verifies the
// provider proof, resolves or provisions the local identity, and issues a
// session token. Every terminal outcome is audited.
func (g *Gateway) HandleCallback(ctx context.Context, provider string, cb Callback) (string, *token.Claims, error) {
	provider = strings.ToLower(provider)

	state := cb.State
	if provider == ProviderSAML {
		state = cb.RelayState
	}
	if state == "" {
		return "", nil, api.NewError(api.CodeSSOStateInvalid, "missing state")
	}

	hs, err := g.states.Take(ctx, state)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			// No tenant is known at this point; the event is unscoped.
			g.emitFailed("", provider, cb.ClientIP, "state_invalid")
			return "", nil, api.NewError(api.CodeSSOStateInvalid, "state is invalid or has expired")
		}
		return "", nil, api.Internal(err)
	}
	if hs.Provider != provider {
		g.emitFailed(hs.TenantID, provider, cb.ClientIP, "provider_mismatch")
		return "", nil, api.NewError(api.CodeSSOStateInvalid, "state is invalid or has expired")
	}

	tenant, err := g.store.GetTenant(ctx, hs.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			g.emitFailed(hs.TenantID, provider, cb.ClientIP, "tenant_missing")
			return "", nil, api.NewError(api.CodeTenantNotFound, "tenant not found")
		}
		return "", nil, api.Internal(err)
	}
	if !tenant.Active {
		g.emitFailed(tenant.ID, provider, cb.ClientIP, "tenant_inactive")
		return "", nil, api.NewError(api.CodeTenantInactive, "tenant is deactivated")
	}

	cfg, err := g.providers.GetProviderConfig(ctx, tenant.ID, provider)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			g.emitFailed(tenant.ID, provider, cb.ClientIP, "provider_unconfigured")
			return "", nil, api.NewError(api.CodeSSONotAvailable, "SSO provider is not configured for this tenant")
		}
		return "", nil, api.Internal(err)
	}

	ext, err := g.externalIdentity(ctx, cfg, provider, hs, cb)
	if err != nil {
		return "", nil, err
	}

	id, err := g.resolveIdentity(ctx, tenant, provider, ext, cb.ClientIP)
	if err != nil {
		return "", nil, err
	}

	tokenStr, claims, err := g.tokens.Issue(id, tenant)
	if err != nil {
		g.logger.Error("issuing session token", "tenant", tenant.ID, "user", id.ID, "error", err)
		return "", nil, api.Internal(err)
	}

	if err := g.store.UpdateLastLogin(ctx, id.ID, cb.ClientIP, g.now()); err != nil {
		g.logger.Error("recording last login", "user", id.ID, "error", err)
	}

	g.audit.Emit(audit.Event{
		TenantID: tenant.ID,
		Type:     audit.EventSSOCompleted,
		ActorID:  id.ID,
		ClientIP: cb.ClientIP,
		Detail:   map[string]any{"provider": provider},
	})
	return tokenStr, claims, nil
}

// externalIdentity verifies the provider proof and normalizes it. Provider
// detail is logged here and never reaches the caller.
func (g *Gateway) externalIdentity(ctx context.Context, cfg *storage.ProviderConfig, provider string, hs *Handshake, cb Callback) (*ExternalIdentity, error) {
	if provider == ProviderSAML {
		ext, err := parseSAMLResponse(cb.SAMLResponse, g.requireSignedAssertions, cfg.Certificate)
		if err != nil {
			g.logger.Warn("SAML assertion rejected", "tenant", hs.TenantID, "error", err)
			if errors.Is(err, errMissingEmail) {
				g.emitFailed(hs.TenantID, provider, cb.ClientIP, "missing_email")
				return nil, api.NewError(api.CodeSSOMissingEmail, "identity provider supplied no email address")
			}
			g.emitFailed(hs.TenantID, provider, cb.ClientIP, "assertion_rejected")
			return nil, api.NewError(api.CodeSSOExchangeFailed, "SSO sign-in failed")
		}
		return ext, nil
	}

	if cb.Code == "" {
		g.emitFailed(hs.TenantID, provider, cb.ClientIP, "missing_code")
		return nil, api.NewError(api.CodeSSOExchangeFailed, "missing authorization code")
	}

	ext, err := g.exchangeCode(ctx, cfg, oauthProviders[provider], cb.Code, hs.RedirectURI)
	if err != nil {
		g.logger.Warn("OAuth2 exchange failed", "tenant", hs.TenantID, "provider", provider, "error", err)
		g.emitFailed(hs.TenantID, provider, cb.ClientIP, "exchange_failed")
		return nil, api.NewError(api.CodeSSOExchangeFailed, "SSO sign-in failed")
	}
	if ext.Email == "" {
		g.emitFailed(hs.TenantID, provider, cb.ClientIP, "missing_email")
		return nil, api.NewError(api.CodeSSOMissingEmail, "identity provider supplied no email address")
	}
	return ext, nil
}

// resolveIdentity maps an external identity to a local one. Resolution
// order: email match (attaching the binding on first SSO login), then the
// (provider, subject) binding for accounts whose email changed provider-side,
// then just-in-time provisioning of a new member. The email address is the
// primary key of the handshake; the binding only bridges address changes.
func (g *Gateway) resolveIdentity(ctx context.Context, tenant *api.Tenant, provider string, ext *ExternalIdentity, clientIP string) (*api.Identity, error) {
	email := api.NormalizeEmail(ext.Email)

	id, err := g.store.GetUserByEmail(ctx, tenant.ID, email)
	switch {
	case err == nil:
		if id, err = g.requireActive(tenant, id, provider, clientIP); err != nil {
			return nil, err
		}
		// First SSO login for a known email: attach the binding so a later
		// provider-side address change still resolves this account.
		if id.SSOProvider == "" {
			if err := g.store.UpdateSSOBinding(ctx, id.ID, provider, ext.Subject); err != nil {
				g.logger.Error("attaching SSO binding", "user", id.ID, "error", err)
				return nil, api.Internal(err)
			}
			id.SSOProvider = provider
			id.SSOSubject = ext.Subject
			id.EmailVerified = true
		}
		return id, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, api.Internal(err)
	}

	id, err = g.store.FindUserBySSOSubject(ctx, tenant.ID, provider, ext.Subject)
	switch {
	case err == nil:
		return g.requireActive(tenant, id, provider, clientIP)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, api.Internal(err)
	}

	// Unknown subject and unknown email: provision a new member. The
	// provider vouched for the address, so it starts verified. No password;
	// the account is SSO-only until one is set through account management.
	id = &api.Identity{
		ID:            api.NewUserID(),
		TenantID:      tenant.ID,
		Email:         email,
		Role:          api.RoleMember,
		Active:        true,
		EmailVerified: true,
		SSOProvider:   provider,
		SSOSubject:    ext.Subject,
		CreatedAt:     g.now(),
	}
	if err := g.store.CreateUser(ctx, id); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a provisioning race; the concurrent winner owns the email.
			if existing, lerr := g.store.GetUserByEmail(ctx, tenant.ID, email); lerr == nil {
				return g.requireActive(tenant, existing, provider, clientIP)
			}
		}
		return nil, api.Internal(err)
	}
	return id, nil
}

func (g *Gateway) requireActive(tenant *api.Tenant, id *api.Identity, provider, clientIP string) (*api.Identity, error) {
	if !id.Active {
		g.emitFailed(tenant.ID, provider, clientIP, "account_inactive")
		return nil, api.NewError(api.CodeAccountInactive, "account is deactivated")
	}
	return id, nil
}

func (g *Gateway) emitFailed(tenantID, provider, clientIP, reason string) {
	g.audit.Emit(audit.Event{
		TenantID: tenantID,
		Type:     audit.EventSSOFailed,
		ClientIP: clientIP,
		Detail:   map[string]any{"provider": provider, "reason": reason},
	})
}
