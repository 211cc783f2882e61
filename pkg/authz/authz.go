// Package authz provides pure authorization checks over an already-resolved
// identity and tenant.
//
// Every check is a flat boolean function: the admin flag is an explicit
// short-circuit at the start of each evaluation, never implicit
// inheritance. Turning a false into the correct typed failure (403 for
// permissions, 402-style for tier and feature gates) is the pipeline's job.
package authz

import "github.com/rhuss/zutritt/pkg/api"

// Well-known feature names.
const (
	FeatureAPIAccess   = "api_access"
	FeatureAPIKeys     = "api_keys"
	FeatureReports     = "advanced_reports"
	FeatureSSO         = "sso"
	FeatureAuditLog    = "audit_log"
	FeatureCustomRoles = "custom_roles"
)

// tierFeatures lists the features each tier newly introduces. A tier
// implies its own entries plus everything from lower tiers.
var tierFeatures = map[api.Tier][]string{
	api.TierStarter:      {FeatureAPIAccess},
	api.TierProfessional: {FeatureAPIKeys, FeatureReports},
	api.TierEnterprise:   {FeatureSSO, FeatureAuditLog, FeatureCustomRoles},
}

// HasPermission reports whether the identity holds the permission.
// Admins hold every permission.
func HasPermission(id *api.Identity, perm string) bool {
	if id == nil {
		return false
	}
	if id.Admin {
		return true
	}
	for _, p := range id.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasRole reports whether the identity's role is one of the allowed roles.
// Admins pass every role check.
func HasRole(id *api.Identity, allowed ...api.Role) bool {
	if id == nil {
		return false
	}
	if id.Admin {
		return true
	}
	for _, r := range allowed {
		if id.Role == r {
			return true
		}
	}
	return false
}

// TierAtLeast reports whether the tenant's subscription tier meets or
// exceeds the required tier.
func TierAtLeast(t *api.Tenant, required api.Tier) bool {
	return t != nil && t.Tier.AtLeast(required)
}

// HasFeature reports whether the tenant has the named feature: tier-implied
// unless explicitly overridden in the tenant's feature set. An explicit
// override wins in both directions.
func HasFeature(t *api.Tenant, feature string) bool {
	if t == nil {
		return false
	}
	if enabled, ok := t.Features[feature]; ok {
		return enabled
	}
	return tierImplies(t.Tier, feature)
}

// tierImplies reports whether the tier (or any lower tier) introduces the
// feature.
func tierImplies(tier api.Tier, feature string) bool {
	for t, features := range tierFeatures {
		if t.Rank() > tier.Rank() {
			continue
		}
		for _, f := range features {
			if f == feature {
				return true
			}
		}
	}
	return false
}
