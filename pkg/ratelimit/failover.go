package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// FailoverLimiter prefers a shared backend and degrades to a process-local
// one when the shared store is unreachable. Both run the same algorithm, so
// the only observable difference during degradation is isolation scope.
type FailoverLimiter struct {
	shared Limiter
	local  Limiter
	logger *slog.Logger
}

// NewFailoverLimiter wraps shared with a local fallback. If shared is nil,
// the local limiter is used directly.
func NewFailoverLimiter(shared, local Limiter, logger *slog.Logger) *FailoverLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverLimiter{shared: shared, local: local, logger: logger}
}

// Admit implements Limiter.
func (l *FailoverLimiter) Admit(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	if l.shared == nil {
		return l.local.Admit(ctx, key, max, window)
	}

	d, err := l.shared.Admit(ctx, key, max, window)
	if err == nil {
		return d, nil
	}

	l.logger.Warn("shared rate limit store unreachable, using local fallback",
		"key", key, "error", err)
	return l.local.Admit(ctx, key, max, window)
}
