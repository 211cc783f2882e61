package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mw("a"), mw("b"), mw("c"))(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if got := strings.Join(order, ""); got != "abc" {
		t.Errorf("middleware order = %q, want abc", got)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID()(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if seen == "" {
		t.Fatal("no request ID in context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Errorf("header = %q, context = %q", rec.Header().Get("X-Request-ID"), seen)
	}
}

func TestRequestIDHonorsInbound(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	RequestID()(inner).ServeHTTP(httptest.NewRecorder(), req)

	if seen != "client-supplied-id" {
		t.Errorf("request ID = %q", seen)
	}
}

func TestRecoveryConvertsPanic(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	Recovery(nil)(panicky).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(api.CodeInternal)) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	Logging(nil)(inner).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestIPThrottleBurstAndRefill(t *testing.T) {
	th := NewIPThrottle(60, 2)

	if _, ok := th.Allow("192.0.2.1"); !ok {
		t.Fatal("first request rejected")
	}
	if _, ok := th.Allow("192.0.2.1"); !ok {
		t.Fatal("second request within burst rejected")
	}
	retry, ok := th.Allow("192.0.2.1")
	if ok {
		t.Fatal("request over burst admitted")
	}
	if retry < 1 {
		t.Errorf("retryAfter = %d, want >= 1", retry)
	}

	// Another IP has its own bucket.
	if _, ok := th.Allow("192.0.2.2"); !ok {
		t.Error("unrelated IP rejected")
	}
}

func TestIPThrottleDisabled(t *testing.T) {
	var th *IPThrottle // NewIPThrottle(0, 0) returns nil
	for i := 0; i < 100; i++ {
		if _, ok := th.Allow("192.0.2.1"); !ok {
			t.Fatal("nil throttle rejected a request")
		}
	}
}

func TestIPThrottleSweep(t *testing.T) {
	th := NewIPThrottle(60, 1)
	th.Allow("192.0.2.1")

	th.mu.Lock()
	th.entries["192.0.2.1"].lastSeen = time.Now().Add(-time.Hour)
	th.lastSweep = time.Now().Add(-2 * time.Minute)
	th.mu.Unlock()

	th.Allow("192.0.2.2")

	th.mu.Lock()
	_, stale := th.entries["192.0.2.1"]
	th.mu.Unlock()
	if stale {
		t.Error("idle entry survived sweep")
	}
}
