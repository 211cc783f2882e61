// Package auth orchestrates request authentication as an ordered pipeline:
// credential verification, identity liveness re-check, rate limiting, and
// context injection. Individual credential mechanisms (password, session
// token, API key, SSO) live in subpackages; this package decides which one
// handles a request and enforces the cross-cutting gates around it.
package auth
