// Package ratelimit provides sliding-window admission control keyed by
// identity, IP, or API key.
//
// Two interchangeable backends implement the same algorithm: a Redis-backed
// limiter for multi-process correctness (prune+count+insert in one atomic
// Lua round trip) and a mutex-guarded in-process limiter used as a local
// fallback when Redis is unreachable. Behavior is observably identical;
// only the isolation scope differs.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Remaining is the number of further admissions available in the
	// current window. Zero when Allowed is false.
	Remaining int

	// ResetAt is an approximation of when the window reopens (now + window).
	ResetAt time.Time
}

// Limiter admits or rejects one event against a trailing window.
type Limiter interface {
	// Admit atomically prunes entries older than the window, counts the
	// rest, and records the current event if count < max.
	Admit(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

// bucket holds the timestamped admissions for one key.
type bucket struct {
	times []time.Time
}

// prune drops entries at or before cutoff.
func (b *bucket) prune(cutoff time.Time) {
	keep := b.times[:0]
	for _, t := range b.times {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	b.times = keep
}

// LocalLimiter is an in-process sliding-window limiter. It is bounded: the
// key map is swept on access, and when the bound is reached new keys are
// admitted without accounting rather than growing without limit.
type LocalLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	maxKeys   int
	lastSweep time.Time

	now func() time.Time // injectable clock for tests
}

const (
	defaultMaxKeys = 100_000
	sweepInterval  = time.Minute
	// sweepHorizon is how long an untouched bucket may linger before the
	// sweep discards it regardless of its own window.
	sweepHorizon = time.Hour
)

// NewLocalLimiter creates a local limiter bounded to maxKeys tracked keys.
// maxKeys <= 0 uses the default bound.
func NewLocalLimiter(maxKeys int) *LocalLimiter {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &LocalLimiter{
		buckets: make(map[string]*bucket),
		maxKeys: maxKeys,
		now:     time.Now,
	}
}

// Admit implements Limiter.
func (l *LocalLimiter) Admit(_ context.Context, key string, max int, window time.Duration) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep(now)

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			// At capacity after a sweep: fail open for the new key rather
			// than grow without bound.
			return Decision{Allowed: true, Remaining: max - 1, ResetAt: now.Add(window)}, nil
		}
		b = &bucket{}
		l.buckets[key] = b
	}

	b.prune(now.Add(-window))
	count := len(b.times)

	d := Decision{ResetAt: now.Add(window)}
	if count < max {
		b.times = append(b.times, now)
		d.Allowed = true
		d.Remaining = max - count - 1
	}
	return d, nil
}

// maybeSweep discards empty and long-untouched buckets. Called with the
// lock held.
func (l *LocalLimiter) maybeSweep(now time.Time) {
	if now.Sub(l.lastSweep) < sweepInterval && len(l.buckets) < l.maxKeys {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-sweepHorizon)
	for key, b := range l.buckets {
		b.prune(cutoff)
		if len(b.times) == 0 {
			delete(l.buckets, key)
		}
	}
}

// Keys returns the number of tracked keys. Test helper.
func (l *LocalLimiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
