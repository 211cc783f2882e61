package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fixedClock advances manually.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter() (*LocalLimiter, *fixedClock) {
	clock := &fixedClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	l := NewLocalLimiter(0)
	l.now = clock.now
	return l, clock
}

func TestSlidingWindowExactAdmissions(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	// Exactly 5 admissions succeed within the window.
	for i := 0; i < 5; i++ {
		d, err := l.Admit(ctx, "k", 5, time.Minute)
		if err != nil {
			t.Fatalf("Admit: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("admission %d rejected", i+1)
		}
		if d.Remaining != 4-i {
			t.Errorf("admission %d remaining = %d, want %d", i+1, d.Remaining, 4-i)
		}
	}

	// The 6th is rejected with remaining 0 and a future reset.
	d, err := l.Admit(ctx, "k", 5, time.Minute)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Errorf("6th admission = %+v, want rejected with remaining 0", d)
	}
	if !d.ResetAt.After(clock.now()) {
		t.Errorf("ResetAt = %v, want after now", d.ResetAt)
	}

	// After the window elapses the bucket admits 5 again.
	clock.advance(61 * time.Second)
	for i := 0; i < 5; i++ {
		d, _ := l.Admit(ctx, "k", 5, time.Minute)
		if !d.Allowed {
			t.Fatalf("post-window admission %d rejected", i+1)
		}
	}
}

func TestSlidingWindowPartialExpiry(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	// Two admissions, then two more 40s later.
	l.Admit(ctx, "k", 4, time.Minute)
	l.Admit(ctx, "k", 4, time.Minute)
	clock.advance(40 * time.Second)
	l.Admit(ctx, "k", 4, time.Minute)
	l.Admit(ctx, "k", 4, time.Minute)

	// Full: rejected.
	if d, _ := l.Admit(ctx, "k", 4, time.Minute); d.Allowed {
		t.Error("5th admission allowed at capacity")
	}

	// 25s later the first two have aged out of the trailing window.
	clock.advance(25 * time.Second)
	d, _ := l.Admit(ctx, "k", 4, time.Minute)
	if !d.Allowed {
		t.Error("admission rejected after partial expiry")
	}
	if d.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", d.Remaining)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	l.Admit(ctx, "a", 1, time.Minute)
	if d, _ := l.Admit(ctx, "a", 1, time.Minute); d.Allowed {
		t.Error("key a over limit but allowed")
	}
	if d, _ := l.Admit(ctx, "b", 1, time.Minute); !d.Allowed {
		t.Error("fresh key b rejected")
	}
}

func TestSweepDiscardsStaleBuckets(t *testing.T) {
	l, clock := newTestLimiter()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		l.Admit(ctx, key, 5, time.Minute)
	}
	if l.Keys() != 3 {
		t.Fatalf("Keys = %d, want 3", l.Keys())
	}

	// Past the sweep horizon every bucket is empty and discarded; the
	// admission that triggers the sweep re-creates its own key.
	clock.advance(2 * time.Hour)
	l.Admit(ctx, "d", 5, time.Minute)
	if l.Keys() != 1 {
		t.Errorf("Keys after sweep = %d, want 1", l.Keys())
	}
}

func TestBoundedFailsOpen(t *testing.T) {
	clock := &fixedClock{t: time.Now()}
	l := NewLocalLimiter(2)
	l.now = clock.now
	ctx := context.Background()

	l.Admit(ctx, "a", 5, time.Minute)
	l.Admit(ctx, "b", 5, time.Minute)

	// Third key at capacity: admitted but untracked.
	d, err := l.Admit(ctx, "c", 5, time.Minute)
	if err != nil || !d.Allowed {
		t.Errorf("over-capacity admit = %+v, %v; want fail-open", d, err)
	}
	if l.Keys() != 2 {
		t.Errorf("Keys = %d, want 2 (bounded)", l.Keys())
	}
}

func TestConcurrentAdmitNeverOverAdmits(t *testing.T) {
	l := NewLocalLimiter(0)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Admit(ctx, "shared", 5, time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Errorf("allowed = %d, want exactly 5", allowed)
	}
}
