package apikey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/ratelimit"
	"github.com/rhuss/zutritt/pkg/storage/memory"
)

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Emit(ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type fixture struct {
	authn  *Authenticator
	store  *memory.Store
	tenant *api.Tenant
	key    *api.APIKey
	raw    string
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	f := &fixture{store: store}

	f.tenant = &api.Tenant{ID: api.NewTenantID(), Slug: "acme", Tier: api.TierProfessional, Active: true}
	store.AddTenant(f.tenant)

	raw, hash := Generate()
	f.raw = raw
	f.key = &api.APIKey{
		ID:          api.NewKeyID(),
		TenantID:    f.tenant.ID,
		Name:        "ci",
		KeyHash:     hash,
		Permissions: []string{"metrics:read"},
		HourlyQuota: 3,
		Active:      true,
	}
	if err := store.CreateKey(context.Background(), f.key); err != nil {
		t.Fatalf("seeding key: %v", err)
	}

	f.authn = New(store, store, ratelimit.NewLocalLimiter(0), &recordingAuditor{}, nil)
	return f
}

func (f *fixture) usage(t *testing.T) int64 {
	t.Helper()
	k, err := f.store.GetKeyByHash(context.Background(), f.key.KeyHash)
	if err != nil {
		t.Fatalf("reading key: %v", err)
	}
	return k.UsageCount
}

func TestGenerateFormat(t *testing.T) {
	raw, hash := Generate()
	if !ValidFormat(raw) {
		t.Errorf("generated key %q fails format check", raw)
	}
	if hash != HashKey(raw) {
		t.Error("hash mismatch")
	}
	if raw2, _ := Generate(); raw2 == raw {
		t.Error("two generated keys are identical")
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	f := setup(t)

	key, tenant, err := f.authn.Authenticate(context.Background(), f.raw)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if key.ID != f.key.ID || tenant.ID != f.tenant.ID {
		t.Error("key/tenant mismatch")
	}
	if got := f.usage(t); got != 1 {
		t.Errorf("usage = %d, want exactly 1", got)
	}
}

func TestAuthenticateFailuresDistinctAndUnbilled(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Malformed input fails fast.
	_, _, err := f.authn.Authenticate(ctx, "not-a-key")
	if !api.IsCode(err, api.CodeAPIKeyInvalid) {
		t.Errorf("malformed error = %v, want API_KEY_INVALID", err)
	}

	// Well-formed but unknown hash.
	unknown, _ := Generate()
	if _, _, err := f.authn.Authenticate(ctx, unknown); !api.IsCode(err, api.CodeAPIKeyInvalid) {
		t.Errorf("unknown error = %v, want API_KEY_INVALID", err)
	}

	// Disabled.
	f.store.SetKeyActive(f.key.ID, false)
	if _, _, err := f.authn.Authenticate(ctx, f.raw); !api.IsCode(err, api.CodeAPIKeyDisabled) {
		t.Errorf("disabled error = %v, want API_KEY_DISABLED", err)
	}
	f.store.SetKeyActive(f.key.ID, true)

	// Expired.
	past := time.Now().Add(-time.Hour)
	expRaw, expHash := Generate()
	expired := &api.APIKey{
		ID: api.NewKeyID(), TenantID: f.tenant.ID, KeyHash: expHash,
		Active: true, ExpiresAt: &past,
	}
	if err := f.store.CreateKey(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.authn.Authenticate(ctx, expRaw); !api.IsCode(err, api.CodeAPIKeyExpired) {
		t.Errorf("expired error = %v, want API_KEY_EXPIRED", err)
	}

	// Inactive tenant.
	dead := &api.Tenant{ID: api.NewTenantID(), Slug: "dead", Tier: api.TierStarter, Active: false}
	f.store.AddTenant(dead)
	deadRaw, deadHash := Generate()
	if err := f.store.CreateKey(ctx, &api.APIKey{
		ID: api.NewKeyID(), TenantID: dead.ID, KeyHash: deadHash, Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.authn.Authenticate(ctx, deadRaw); !api.IsCode(err, api.CodeTenantInactive) {
		t.Errorf("inactive tenant error = %v, want TENANT_INACTIVE", err)
	}

	// None of the failures billed the main key.
	if got := f.usage(t); got != 0 {
		t.Errorf("usage after failures = %d, want 0", got)
	}
}

func TestHourlyQuota(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// The key's quota is 3 per hour.
	for i := 0; i < 3; i++ {
		if _, _, err := f.authn.Authenticate(ctx, f.raw); err != nil {
			t.Fatalf("authentication %d: %v", i+1, err)
		}
	}

	_, _, err := f.authn.Authenticate(ctx, f.raw)
	e := api.AsError(err)
	if e == nil || e.Code != api.CodeAPIKeyQuotaExceeded {
		t.Fatalf("over-quota error = %v, want API_KEY_QUOTA_EXCEEDED", err)
	}
	if e.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %d, want > 0", e.RetryAfter)
	}

	// The rejected request was not billed.
	if got := f.usage(t); got != 3 {
		t.Errorf("usage = %d, want 3", got)
	}
}

func TestNoQuotaMeansUnlimited(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	raw, hash := Generate()
	if err := f.store.CreateKey(ctx, &api.APIKey{
		ID: api.NewKeyID(), TenantID: f.tenant.ID, KeyHash: hash, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if _, _, err := f.authn.Authenticate(ctx, raw); err != nil {
			t.Fatalf("unlimited key authentication %d: %v", i+1, err)
		}
	}
}
