package api

import "net/http"

// HTTPStatus maps a stable error code to its HTTP status. Unknown codes map
// to 500 so a forgotten mapping fails loudly rather than leaking a 200.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidCredentials, CodeAccountLocked, CodeAccountInactive,
		CodeTokenExpired, CodeTokenInvalid, CodeIdentityNotFound,
		CodeSSOStateInvalid, CodeSSOExchangeFailed, CodeSSOMissingEmail,
		CodeAPIKeyInvalid, CodeAPIKeyDisabled, CodeAPIKeyExpired:
		return http.StatusUnauthorized
	case CodeTenantNotFound:
		return http.StatusNotFound
	case CodeTenantInactive, CodePermissionDenied:
		return http.StatusForbidden
	case CodeTierRequired, CodeFeatureNotAvail, CodeSSONotAvailable:
		return http.StatusPaymentRequired
	case CodeRateLimitExceeded, CodeAPIKeyQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
