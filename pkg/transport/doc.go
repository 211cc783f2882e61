// Package transport serves the authentication API over HTTP.
//
// The transport layer is deliberately thin: handlers decode a request,
// call exactly one operation on a collaborator (credential authenticator,
// token service, SSO gateway), and encode the result. All policy lives in
// those collaborators; every failure they return is a typed error that maps
// 1:1 onto an HTTP status and a stable machine-readable code.
//
// # Middleware
//
// Cross-cutting concerns are http.Handler middleware, applied outermost
// first: panic recovery, request ID assignment (X-Request-ID), structured
// logging via log/slog, and Prometheus metrics. Authentication enforcement
// itself is middleware from pkg/auth, applied inside this chain so its
// failures are logged and measured like any other response.
package transport
