package password

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/storage/memory"
)

// recordingAuditor captures emitted events synchronously.
type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Emit(ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingAuditor) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return audit.Event{}
	}
	return r.events[len(r.events)-1]
}

type fixture struct {
	authn   *Authenticator
	store   *memory.Store
	auditor *recordingAuditor
	tenant  *api.Tenant
	user    *api.Identity
	clock   time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	auditor := &recordingAuditor{}
	hasher := BcryptHasher{Cost: 4} // min cost keeps tests fast

	f := &fixture{
		store:   store,
		auditor: auditor,
		clock:   time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
	}

	f.authn = New(store, hasher, auditor, nil)
	f.authn.now = func() time.Time { return f.clock }

	f.tenant = &api.Tenant{ID: api.NewTenantID(), Slug: "acme", Tier: api.TierProfessional, Active: true}
	store.AddTenant(f.tenant)

	hash, err := hasher.Hash("correct horse")
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	f.user = &api.Identity{
		ID:           api.NewUserID(),
		TenantID:     f.tenant.ID,
		Email:        "alice@example.com",
		Role:         api.RoleMember,
		Active:       true,
		PasswordHash: hash,
	}
	if err := store.CreateUser(context.Background(), f.user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	return f
}

func (f *fixture) login(password string) (*api.Identity, *api.Tenant, error) {
	return f.authn.Login(context.Background(), Request{
		TenantSlug: "acme",
		Email:      "alice@example.com",
		Password:   password,
		ClientIP:   "203.0.113.1",
	})
}

func TestLoginSuccess(t *testing.T) {
	f := setup(t)

	id, tenant, err := f.login("correct horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id.ID != f.user.ID || tenant.ID != f.tenant.ID {
		t.Errorf("identity/tenant mismatch")
	}

	// Last login recorded.
	stored, _ := f.store.GetUserByID(context.Background(), f.user.ID)
	if stored.LastLoginAt == nil || stored.LastLoginIP != "203.0.113.1" {
		t.Error("last login not recorded")
	}

	if ev := f.auditor.last(); ev.Type != audit.EventLoginSuccess {
		t.Errorf("audit type = %s, want login_success", ev.Type)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := setup(t)

	_, _, err := f.login("wrong")
	if !api.IsCode(err, api.CodeInvalidCredentials) {
		t.Fatalf("error = %v, want INVALID_CREDENTIALS", err)
	}

	stored, _ := f.store.GetUserByID(context.Background(), f.user.ID)
	if stored.FailedLogins != 1 {
		t.Errorf("FailedLogins = %d, want 1", stored.FailedLogins)
	}
	if ev := f.auditor.last(); ev.Type != audit.EventLoginFailed {
		t.Errorf("audit type = %s, want login_failed", ev.Type)
	}
}

func TestUnknownEmailIndistinguishable(t *testing.T) {
	f := setup(t)

	_, _, wrongPass := f.login("wrong")
	_, _, unknown := f.authn.Login(context.Background(), Request{
		TenantSlug: "acme", Email: "nobody@example.com", Password: "anything",
	})

	// Both collapse to the same code to prevent account enumeration.
	if !api.IsCode(wrongPass, api.CodeInvalidCredentials) || !api.IsCode(unknown, api.CodeInvalidCredentials) {
		t.Errorf("wrong password = %v, unknown email = %v; want both INVALID_CREDENTIALS", wrongPass, unknown)
	}
}

func TestUnknownTenantSlug(t *testing.T) {
	f := setup(t)

	_, _, err := f.authn.Login(context.Background(), Request{
		TenantSlug: "globex", Email: "alice@example.com", Password: "correct horse",
	})
	if !api.IsCode(err, api.CodeTenantNotFound) {
		t.Errorf("error = %v, want TENANT_NOT_FOUND", err)
	}
}

func TestCrossTenantLoginWithoutSlug(t *testing.T) {
	f := setup(t)

	id, _, err := f.authn.Login(context.Background(), Request{
		Email: "alice@example.com", Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("slugless login: %v", err)
	}
	if id.ID != f.user.ID {
		t.Error("resolved wrong user")
	}
}

func TestLockoutAfterThreshold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Five consecutive wrong passwords lock the account.
	for i := 0; i < LockoutThreshold; i++ {
		_, _, err := f.login("wrong")
		if !api.IsCode(err, api.CodeInvalidCredentials) {
			t.Fatalf("attempt %d error = %v", i+1, err)
		}
	}

	stored, _ := f.store.GetUserByID(ctx, f.user.ID)
	if stored.LockedUntil == nil {
		t.Fatal("account not locked after threshold")
	}
	if ev := f.auditor.last(); ev.Type != audit.EventAccountLocked {
		t.Errorf("audit type = %s, want account_locked", ev.Type)
	}

	// The 6th attempt fails AccountLocked even with the correct password,
	// with retry-after close to the full lockout window.
	_, _, err := f.login("correct horse")
	e := api.AsError(err)
	if e == nil || e.Code != api.CodeAccountLocked {
		t.Fatalf("error = %v, want ACCOUNT_LOCKED", err)
	}
	if e.RetryAfter < 890 || e.RetryAfter > 900 {
		t.Errorf("RetryAfter = %d, want ≈900", e.RetryAfter)
	}

	// After the window elapses, a correct-password attempt succeeds and
	// resets the counter.
	f.clock = f.clock.Add(LockoutDuration + time.Second)
	if _, _, err := f.login("correct horse"); err != nil {
		t.Fatalf("post-lockout login: %v", err)
	}
	stored, _ = f.store.GetUserByID(ctx, f.user.ID)
	if stored.FailedLogins != 0 || stored.LockedUntil != nil {
		t.Errorf("counter not reset: %+v", stored)
	}
}

func TestInactiveAccountAndTenant(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	inactive := &api.Identity{
		ID: api.NewUserID(), TenantID: f.tenant.ID, Email: "gone@example.com",
		Role: api.RoleMember, Active: false, PasswordHash: f.user.PasswordHash,
	}
	if err := f.store.CreateUser(ctx, inactive); err != nil {
		t.Fatal(err)
	}
	_, _, err := f.authn.Login(ctx, Request{TenantSlug: "acme", Email: "gone@example.com", Password: "correct horse"})
	if !api.IsCode(err, api.CodeAccountInactive) {
		t.Errorf("inactive account error = %v, want ACCOUNT_INACTIVE", err)
	}

	dead := &api.Tenant{ID: api.NewTenantID(), Slug: "dead", Tier: api.TierStarter, Active: false}
	f.store.AddTenant(dead)
	deadUser := &api.Identity{
		ID: api.NewUserID(), TenantID: dead.ID, Email: "x@example.com",
		Role: api.RoleMember, Active: true, PasswordHash: f.user.PasswordHash,
	}
	if err := f.store.CreateUser(ctx, deadUser); err != nil {
		t.Fatal(err)
	}
	_, _, err = f.authn.Login(ctx, Request{TenantSlug: "dead", Email: "x@example.com", Password: "correct horse"})
	if !api.IsCode(err, api.CodeTenantInactive) {
		t.Errorf("inactive tenant error = %v, want TENANT_INACTIVE", err)
	}
}

func TestSSOOnlyAccountRejectsPassword(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ssoUser := &api.Identity{
		ID: api.NewUserID(), TenantID: f.tenant.ID, Email: "sso@example.com",
		Role: api.RoleMember, Active: true, SSOProvider: "google", SSOSubject: "g-1",
	}
	if err := f.store.CreateUser(ctx, ssoUser); err != nil {
		t.Fatal(err)
	}

	_, _, err := f.authn.Login(ctx, Request{TenantSlug: "acme", Email: "sso@example.com", Password: "anything"})
	if !api.IsCode(err, api.CodeInvalidCredentials) {
		t.Errorf("SSO-only login error = %v, want INVALID_CREDENTIALS", err)
	}
}

func TestBcryptHasherRoundTrip(t *testing.T) {
	h := BcryptHasher{Cost: 4}
	hash, err := h.Hash("s3cret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !h.Verify(hash, "s3cret") {
		t.Error("Verify rejected correct password")
	}
	if h.Verify(hash, "wrong") {
		t.Error("Verify accepted wrong password")
	}
}
