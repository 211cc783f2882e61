package auth

import (
	"context"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/ratelimit"
)

// TierLimits maps a subscription tier to its requests-per-minute allowance.
// A zero or missing entry means no per-request limit for that tier.
type TierLimits map[api.Tier]int

// DefaultTierLimits is the allowance used when configuration supplies none.
var DefaultTierLimits = TierLimits{
	api.TierStarter:      60,
	api.TierProfessional: 300,
	api.TierEnterprise:   1000,
}

// RequestLimiter applies the per-tier sliding window to authenticated
// requests. Keys are scoped per caller so one noisy user cannot exhaust a
// tenant-wide budget.
type RequestLimiter struct {
	limiter ratelimit.Limiter
	limits  TierLimits

	now func() time.Time // injectable clock for tests
}

// NewRequestLimiter creates a per-tier request limiter. Nil limits fall
// back to DefaultTierLimits.
func NewRequestLimiter(limiter ratelimit.Limiter, limits TierLimits) *RequestLimiter {
	if limits == nil {
		limits = DefaultTierLimits
	}
	return &RequestLimiter{limiter: limiter, limits: limits, now: time.Now}
}

// Allow admits or rejects one request for the principal. A rejection is
// returned as RATE_LIMIT_EXCEEDED with a retry-after; limiter
// infrastructure failure fails open.
func (l *RequestLimiter) Allow(ctx context.Context, p *Principal) (ratelimit.Decision, error) {
	limit := l.limits[p.Tenant.Tier]
	if limit <= 0 {
		return ratelimit.Decision{Allowed: true, Remaining: -1}, nil
	}

	d, err := l.limiter.Admit(ctx, "req:"+p.Subject(), limit, time.Minute)
	if err != nil {
		// The failover limiter already degraded as far as it could; fail
		// open rather than reject authenticated traffic.
		return ratelimit.Decision{Allowed: true, Remaining: -1}, nil
	}
	if !d.Allowed {
		retry := int(d.ResetAt.Sub(l.now()).Seconds())
		if retry < 1 {
			retry = 1
		}
		return d, api.NewRetryableError(api.CodeRateLimitExceeded, "rate limit exceeded", retry)
	}
	return d, nil
}
