// Package api defines the core domain types for the zutritt auth gateway.
//
// This package provides all data types shared across the authentication
// core: identities, tenants, subscription tiers, API keys, typed error
// codes, and ID generation.
//
// The package has zero external dependencies (Go standard library only) and
// performs no I/O. Ownership rules:
//
//   - [Identity] and [Tenant] are owned by the identity store; the auth core
//     holds a read-through snapshot for the duration of one request and
//     mutates them only through explicit store operations (failed-attempt
//     accounting, last-login updates).
//   - [APIKey] never carries the raw key material; only its SHA-256 hash is
//     persisted.
//   - [Error] is the single error shape crossing the pipeline boundary: a
//     stable machine-readable code, a human message, and an optional
//     retry-after hint for lockouts and rate limits.
package api
