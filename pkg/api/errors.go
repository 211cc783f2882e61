package api

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code exposed to callers.
// Codes never change once published; clients switch on them.
type Code string

const (
	// Credential errors (recoverable by the end user).
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeAccountLocked      Code = "ACCOUNT_LOCKED"
	CodeAccountInactive    Code = "ACCOUNT_INACTIVE"
	CodeTenantInactive     Code = "TENANT_INACTIVE"
	CodeTenantNotFound     Code = "TENANT_NOT_FOUND"
	CodeIdentityNotFound   Code = "IDENTITY_NOT_FOUND"

	// Token errors (caller must re-authenticate).
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	CodeTokenInvalid Code = "TOKEN_INVALID"

	// SSO protocol errors (surfaced as authentication failure; provider
	// detail is logged, never returned).
	CodeSSOStateInvalid   Code = "SSO_STATE_INVALID"
	CodeSSOExchangeFailed Code = "SSO_EXCHANGE_FAILED"
	CodeSSOMissingEmail   Code = "SSO_MISSING_EMAIL"
	CodeSSONotAvailable   Code = "SSO_NOT_AVAILABLE"

	// API key errors.
	CodeAPIKeyInvalid       Code = "API_KEY_INVALID"
	CodeAPIKeyDisabled      Code = "API_KEY_DISABLED"
	CodeAPIKeyExpired       Code = "API_KEY_EXPIRED"
	CodeAPIKeyQuotaExceeded Code = "API_KEY_QUOTA_EXCEEDED"

	// Rate limiting (safe to retry after RetryAfter seconds).
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"

	// Authorization errors (distinct from authentication; never retried).
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeTierRequired     Code = "SUBSCRIPTION_TIER_REQUIRED"
	CodeFeatureNotAvail  Code = "FEATURE_NOT_AVAILABLE"

	// Infrastructure errors.
	CodeTimeout  Code = "TIMEOUT"
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is the typed failure returned by every public auth operation.
// No unchecked error reaches the pipeline boundary: everything is either
// a success value or one of these.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`

	// RetryAfter is the number of seconds after which a retry may succeed.
	// Set only for lockouts and rate limits.
	RetryAfter int `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %ds)", e.Code, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse wraps an Error for JSON serialization as the top-level
// error response body.
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// NewError creates an Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewRetryableError creates an Error carrying a retry-after hint in seconds.
func NewRetryableError(code Code, message string, retryAfter int) *Error {
	return &Error{Code: code, Message: message, RetryAfter: retryAfter}
}

// Errorf creates an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err into an *Error, or nil if err is not one.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code Code) bool {
	e := AsError(err)
	return e != nil && e.Code == code
}

// Internal wraps an unexpected infrastructure failure into an INTERNAL_ERROR
// without leaking the underlying detail to the caller.
func Internal(err error) *Error {
	_ = err // logged by the caller with full context
	return &Error{Code: CodeInternal, Message: "internal error"}
}
