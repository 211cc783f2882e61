package transport

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttleMaxEntries bounds the per-IP limiter map.
const throttleMaxEntries = 100_000

// throttleIdleHorizon is how long an IP entry may stay idle before a sweep
// reclaims it.
const throttleIdleHorizon = 10 * time.Minute

// IPThrottle rate-limits unauthenticated endpoints per client IP with a
// token bucket, before any credential verification work happens. It caps
// the cost an attacker can impose via bcrypt verification and keeps
// failed-attempt accounting meaningful.
type IPThrottle struct {
	mu        sync.Mutex
	entries   map[string]*ipEntry
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

type ipEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewIPThrottle creates a throttle allowing perMinute sustained requests
// per IP with the given burst. perMinute <= 0 disables throttling.
func NewIPThrottle(perMinute, burst int) *IPThrottle {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &IPThrottle{
		entries: make(map[string]*ipEntry),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
	}
}

// Allow reports whether a request from the IP is admitted. When rejected,
// retryAfter carries the whole seconds until a retry may succeed. A nil
// throttle admits everything.
func (t *IPThrottle) Allow(ip string) (retryAfter int, ok bool) {
	if t == nil {
		return 0, true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.maybeSweep(now)

	e, found := t.entries[ip]
	if !found {
		// At capacity, admit untracked IPs rather than block all traffic.
		if len(t.entries) >= throttleMaxEntries {
			return 0, true
		}
		e = &ipEntry{lim: rate.NewLimiter(t.limit, t.burst)}
		t.entries[ip] = e
	}
	e.lastSeen = now

	res := e.lim.Reserve()
	if !res.OK() {
		return 60, false
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return int(math.Ceil(delay.Seconds())), false
	}
	return 0, true
}

// maybeSweep drops idle entries. Called with the mutex held.
func (t *IPThrottle) maybeSweep(now time.Time) {
	if now.Sub(t.lastSweep) < time.Minute {
		return
	}
	t.lastSweep = now
	cutoff := now.Add(-throttleIdleHorizon)
	for ip, e := range t.entries {
		if e.lastSeen.Before(cutoff) {
			delete(t.entries, ip)
		}
	}
}
