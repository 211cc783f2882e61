package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/auth/apikey"
	"github.com/rhuss/zutritt/pkg/auth/token"
	"github.com/rhuss/zutritt/pkg/authz"
	"github.com/rhuss/zutritt/pkg/storage"
)

// Method names the credential mechanism that authenticated a request.
const (
	MethodToken  = "token"
	MethodAPIKey = "api_key"
)

// Principal is the resolved caller of one request. Exactly one of Identity
// or Key is set, depending on the method; Tenant is always set.
type Principal struct {
	Method string

	// Identity is set for session-token callers.
	Identity *api.Identity

	// Key is set for API-key callers.
	Key *api.APIKey

	Tenant *api.Tenant

	// Claims carries the verified token claims for token callers.
	Claims *token.Claims
}

// Subject returns the stable identifier of the caller: the user ID for
// token callers, the key ID for API-key callers.
func (p *Principal) Subject() string {
	switch {
	case p == nil:
		return ""
	case p.Identity != nil:
		return p.Identity.ID
	case p.Key != nil:
		return p.Key.ID
	}
	return ""
}

// HasPermission reports whether the principal holds the permission.
func (p *Principal) HasPermission(perm string) bool {
	if p == nil {
		return false
	}
	if p.Identity != nil {
		return authz.HasPermission(p.Identity, perm)
	}
	if p.Key != nil {
		for _, kp := range p.Key.Permissions {
			if kp == perm {
				return true
			}
		}
	}
	return false
}

// Decision is the three-outcome vote of one authenticator.
type Decision int

const (
	// Yes means the credentials are valid: the chain stops and the
	// principal is used.
	Yes Decision = iota

	// No means credentials of this authenticator's type are present but
	// invalid: the chain stops and the request is rejected.
	No

	// Abstain means this authenticator does not handle the presented
	// credential type: the chain continues.
	Abstain
)

// Result carries the outcome of an authentication attempt.
type Result struct {
	Decision  Decision
	Principal *Principal // populated only when Decision == Yes
	Err       error      // populated only when Decision == No
}

// Authenticator examines request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// Chain evaluates authenticators in order. The first non-abstaining vote
// wins; if all abstain the request is rejected as unauthenticated.
type Chain struct {
	Authenticators []Authenticator
}

// Authenticate runs the chain.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision != Abstain {
			return result
		}
	}
	return Result{
		Decision: No,
		Err:      api.NewError(api.CodeTokenInvalid, "authentication required"),
	}
}

// ---------------------------------------------------------------------------
// Session token authenticator
// ---------------------------------------------------------------------------

// TokenAuthenticator verifies Bearer session tokens and re-checks the
// identity against the store so revocation takes effect within one request,
// not at token expiry.
type TokenAuthenticator struct {
	Tokens *token.Service
	Store  storage.IdentityStore
}

// Authenticate votes on the Authorization header. Bearer values carrying an
// API key prefix are left to the key authenticator.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) Result {
	raw, ok := bearerToken(r)
	if !ok || strings.HasPrefix(raw, apikey.KeyPrefix) {
		return Result{Decision: Abstain}
	}

	claims, err := a.Tokens.Verify(raw)
	if err != nil {
		return Result{Decision: No, Err: err}
	}

	// Liveness re-check: the token alone is not enough, the identity and
	// tenant must still exist and be active right now.
	id, err := a.Store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Decision: No, Err: api.NewError(api.CodeIdentityNotFound, "identity no longer exists")}
		}
		return Result{Decision: No, Err: api.Internal(err)}
	}
	if !id.Active {
		return Result{Decision: No, Err: api.NewError(api.CodeAccountInactive, "account is deactivated")}
	}

	tenant, err := a.Store.GetTenant(ctx, claims.TenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{Decision: No, Err: api.NewError(api.CodeTenantNotFound, "tenant no longer exists")}
		}
		return Result{Decision: No, Err: api.Internal(err)}
	}
	if !tenant.Active {
		return Result{Decision: No, Err: api.NewError(api.CodeTenantInactive, "tenant is deactivated")}
	}

	return Result{Decision: Yes, Principal: &Principal{
		Method:   MethodToken,
		Identity: id,
		Tenant:   tenant,
		Claims:   claims,
	}}
}

// ---------------------------------------------------------------------------
// API key authenticator
// ---------------------------------------------------------------------------

// KeyAuthenticator validates API keys presented either as a Bearer value or
// in the X-API-Key header.
type KeyAuthenticator struct {
	Keys *apikey.Authenticator
}

// Authenticate votes on API-key shaped credentials.
func (a *KeyAuthenticator) Authenticate(ctx context.Context, r *http.Request) Result {
	raw := r.Header.Get("X-API-Key")
	if raw == "" {
		bearer, ok := bearerToken(r)
		if !ok || !strings.HasPrefix(bearer, apikey.KeyPrefix) {
			return Result{Decision: Abstain}
		}
		raw = bearer
	}

	key, tenant, err := a.Keys.Authenticate(ctx, raw)
	if err != nil {
		return Result{Decision: No, Err: err}
	}
	return Result{Decision: Yes, Principal: &Principal{
		Method: MethodAPIKey,
		Key:    key,
		Tenant: tenant,
	}}
}

// bearerToken extracts the value of an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
