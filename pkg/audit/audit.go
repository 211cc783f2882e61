// Package audit provides fire-and-forget audit event emission for the auth
// core.
//
// Events are handed to a bounded asynchronous dispatcher so audit writes
// never add latency to the request path. When the queue is full the oldest
// queued event is dropped and a counter is incremented; the request path
// never blocks and never fails because of audit.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/zutritt/pkg/observability"
)

// Event types emitted by the auth core.
const (
	EventLoginSuccess     = "login_success"
	EventLoginFailed      = "login_failed"
	EventAccountLocked    = "account_locked"
	EventTokenRefreshed   = "token_refreshed"
	EventTokenRefreshFail = "token_refresh_failed"
	EventSSOInitiated     = "sso_initiated"
	EventSSOCompleted     = "sso_completed"
	EventSSOFailed        = "sso_failed"
	EventAPIKeyAccepted   = "api_key_accepted"
	EventAPIKeyRejected   = "api_key_rejected"
	EventRateLimited      = "rate_limit_exceeded"
	EventPermissionDenied = "permission_denied"
)

// Event is an immutable audit record. Write-only from the auth core's
// perspective; storage and retention belong to the configured sink.
type Event struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	Type         string         `json:"type"`
	ActorID      string         `json:"actor_id,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	ClientIP     string         `json:"client_ip,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
	Time         time.Time      `json:"time"`
}

// Sink persists audit events. Implementations must tolerate concurrent
// calls; errors are logged by the dispatcher and never propagated.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Config holds dispatcher settings.
type Config struct {
	// BufferSize is the queue capacity. Default: 1024.
	BufferSize int

	// FlushTimeout bounds a single sink write. Default: 5s.
	FlushTimeout time.Duration
}

func (c *Config) defaults() {
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
}

// Dispatcher decouples audit emission from request latency via a bounded
// queue drained by a single background goroutine.
type Dispatcher struct {
	sink    Sink
	cfg     Config
	logger  *slog.Logger
	dropped atomic.Uint64

	mu     sync.Mutex
	queue  chan Event
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a dispatcher and starts its drain goroutine.
// Call Close to flush and stop it.
func NewDispatcher(sink Sink, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	go d.drain()
	return d
}

// Emit enqueues an event without blocking. Missing ID and Time fields are
// filled in. If the queue is full, the oldest queued event is discarded to
// make room and the dropped counter is incremented.
func (d *Dispatcher) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.dropped.Add(1)
		observability.AuditDroppedTotal.Inc()
		return
	}

	for {
		select {
		case d.queue <- ev:
			return
		default:
		}
		// Queue full: drop the oldest event and retry.
		select {
		case old := <-d.queue:
			d.dropped.Add(1)
			observability.AuditDroppedTotal.Inc()
			d.logger.Warn("audit queue full, dropping oldest event",
				"dropped_type", old.Type, "dropped_tenant", old.TenantID)
		default:
		}
	}
}

// Dropped returns the total number of events discarded because the queue
// was full or the dispatcher was closed.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events, drains the queue, and waits for the drain
// goroutine to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.FlushTimeout)
		if err := d.sink.Record(ctx, ev); err != nil {
			d.logger.Error("audit sink write failed",
				"event_type", ev.Type, "tenant", ev.TenantID, "error", err)
		}
		cancel()
	}
}

// SlogSink writes audit events as structured log lines. It is the default
// sink and always available.
type SlogSink struct {
	Logger *slog.Logger
}

// Record logs the event at INFO level.
func (s *SlogSink) Record(_ context.Context, ev Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("audit",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"tenant", ev.TenantID,
		"actor", ev.ActorID,
		"resource_type", ev.ResourceType,
		"resource_id", ev.ResourceID,
		"client_ip", ev.ClientIP,
	)
	return nil
}
