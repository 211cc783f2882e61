package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/observability"
	"github.com/rhuss/zutritt/pkg/ratelimit"
	"github.com/rhuss/zutritt/pkg/storage"
)

// Auditor receives audit events. Satisfied by *audit.Dispatcher.
type Auditor interface {
	Emit(ev audit.Event)
}

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware enforces the request pipeline: authenticate via the chain,
// admit through the per-tier rate limiter, then inject the principal and
// tenant into the request context. Checks run in that fixed order; a
// request that fails authentication never reaches rate-limit accounting.
//
// A bypass entry ending in "/" matches every path under that prefix; all
// other entries match exactly.
func Middleware(chain *Chain, limiter *RequestLimiter, auditor Auditor, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	var bypassPrefixes []string
	for _, ep := range bypassEndpoints {
		if strings.HasSuffix(ep, "/") {
			bypassPrefixes = append(bypassPrefixes, ep)
			continue
		}
		bypass[ep] = true
	}

	bypassed := func(path string) bool {
		if bypass[path] {
			return true
		}
		for _, prefix := range bypassPrefixes {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypassed(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			result := chain.Authenticate(r.Context(), r)
			if result.Decision != Yes || result.Principal == nil {
				err := api.AsError(result.Err)
				if err == nil {
					err = api.NewError(api.CodeTokenInvalid, "authentication required")
				}
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"code", err.Code,
				)
				observability.AuthRequestsTotal.WithLabelValues("", "failure").Inc()
				WriteError(w, err)
				return
			}
			p := result.Principal
			observability.AuthRequestsTotal.WithLabelValues(p.Method, "success").Inc()

			if limiter != nil {
				d, err := limiter.Allow(r.Context(), p)
				setRateLimitHeaders(w, d)
				if err != nil {
					slog.Warn("rate limit exceeded",
						"subject", p.Subject(),
						"tier", p.Tenant.Tier,
					)
					observability.RateLimitRejectedTotal.WithLabelValues(string(p.Tenant.Tier)).Inc()
					if auditor != nil {
						auditor.Emit(audit.Event{
							TenantID: p.Tenant.ID,
							Type:     audit.EventRateLimited,
							ActorID:  p.Subject(),
							ClientIP: r.RemoteAddr,
						})
					}
					WriteError(w, api.AsError(err))
					return
				}
			}

			ctx := SetPrincipal(r.Context(), p)
			ctx = storage.SetTenant(ctx, p.Tenant.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// setRateLimitHeaders exposes remaining quota and reset time. A negative
// remaining means no limit applied.
func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Remaining < 0 {
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
}

// WriteError writes the typed error as the JSON error response with its
// mapped HTTP status and, when present, a Retry-After header.
func WriteError(w http.ResponseWriter, err *api.Error) {
	if err == nil {
		err = api.NewError(api.CodeInternal, "internal error")
	}
	w.Header().Set("Content-Type", "application/json")
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	w.WriteHeader(api.HTTPStatus(err.Code))
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: err})
}
