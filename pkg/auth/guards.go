package auth

import (
	"net/http"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/authz"
)

// Guards turn authorization checks into HTTP middleware. They assume the
// authentication middleware already ran: a missing principal is rejected as
// unauthenticated, never treated as an anonymous pass.

// RequirePermission rejects requests whose principal lacks the permission.
func RequirePermission(perm string, auditor Auditor) func(http.Handler) http.Handler {
	return guard(auditor, "permission:"+perm, func(p *Principal) *api.Error {
		if !p.HasPermission(perm) {
			return api.Errorf(api.CodePermissionDenied, "permission %q required", perm)
		}
		return nil
	})
}

// RequireRole rejects requests whose principal's role is not one of the
// allowed roles. API-key principals carry no role and are rejected.
func RequireRole(auditor Auditor, allowed ...api.Role) func(http.Handler) http.Handler {
	return guard(auditor, "role", func(p *Principal) *api.Error {
		if p.Identity == nil || !authz.HasRole(p.Identity, allowed...) {
			return api.NewError(api.CodePermissionDenied, "insufficient role")
		}
		return nil
	})
}

// RequireTier rejects requests whose tenant's subscription tier is below the
// required one.
func RequireTier(required api.Tier, auditor Auditor) func(http.Handler) http.Handler {
	return guard(auditor, "tier:"+string(required), func(p *Principal) *api.Error {
		if !authz.TierAtLeast(p.Tenant, required) {
			return api.Errorf(api.CodeTierRequired, "subscription tier %q required", required)
		}
		return nil
	})
}

// RequireFeature rejects requests whose tenant does not hold the feature.
func RequireFeature(feature string, auditor Auditor) func(http.Handler) http.Handler {
	return guard(auditor, "feature:"+feature, func(p *Principal) *api.Error {
		if !authz.HasFeature(p.Tenant, feature) {
			return api.Errorf(api.CodeFeatureNotAvail, "feature %q is not available on this subscription", feature)
		}
		return nil
	})
}

func guard(auditor Auditor, requirement string, check func(p *Principal) *api.Error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				WriteError(w, api.NewError(api.CodeTokenInvalid, "authentication required"))
				return
			}
			if err := check(p); err != nil {
				if auditor != nil && err.Code == api.CodePermissionDenied {
					auditor.Emit(audit.Event{
						TenantID: p.Tenant.ID,
						Type:     audit.EventPermissionDenied,
						ActorID:  p.Subject(),
						Detail:   map[string]any{"requirement": requirement, "path": r.URL.Path},
					})
				}
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
