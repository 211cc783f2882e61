// Package storage defines the narrow persistence interfaces consumed by the
// auth core, along with shared sentinel errors and tenant context helpers.
//
// The identity store is owned externally; the auth core reads identities and
// tenants through [IdentityStore] and mutates them only via the explicit
// failed-attempt and last-login operations. API keys and SSO provider
// configuration follow the same pattern through [APIKeyStore] and
// [ProviderConfigStore].
//
// Two implementations ship with the gateway: memory (testing and lightweight
// deployments) and postgres (pgx-backed, production).
package storage
