package token

import (
	"context"
	"testing"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/storage/memory"
)

func testService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Config{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func testIdentity() (*api.Identity, *api.Tenant) {
	id := &api.Identity{
		ID:          "usr_a1",
		TenantID:    "tnt_b2",
		Email:       "alice@example.com",
		Role:        api.RoleAdmin,
		Permissions: []string{"reports:read"},
		Active:      true,
	}
	tenant := &api.Tenant{
		ID:     "tnt_b2",
		Slug:   "acme",
		Tier:   api.TierEnterprise,
		Active: true,
	}
	return id, tenant
}

func TestNewRequiresSecret(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted empty secret")
	}
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	svc := testService(t)
	id, tenant := testIdentity()

	signed, issued, err := svc.Issue(id, tenant)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.ExpiresAt.Sub(issued.IssuedAt.Time) != DefaultTTL {
		t.Errorf("validity window = %v, want %v", issued.ExpiresAt.Sub(issued.IssuedAt.Time), DefaultTTL)
	}

	claims, err := svc.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != id.ID || claims.TenantID != tenant.ID || claims.TenantSlug != "acme" {
		t.Errorf("claims mismatch: %+v", claims)
	}
	if claims.Role != api.RoleAdmin || len(claims.Permissions) != 1 {
		t.Errorf("role/permissions mismatch: %+v", claims)
	}
}

func TestVerifyExpired(t *testing.T) {
	svc := testService(t)
	id, tenant := testIdentity()

	signed, _, err := svc.Issue(id, tenant)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Just inside the window: valid. Just past it: expired.
	svc.now = func() time.Time { return time.Now().Add(DefaultTTL - time.Minute) }
	if _, err := svc.Verify(signed); err != nil {
		t.Errorf("Verify inside window: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Minute) }
	_, err = svc.Verify(signed)
	if !api.IsCode(err, api.CodeTokenExpired) {
		t.Errorf("Verify past window = %v, want TOKEN_EXPIRED", err)
	}
}

func TestVerifyTampered(t *testing.T) {
	svc := testService(t)
	id, tenant := testIdentity()

	signed, _, _ := svc.Issue(id, tenant)

	tampered := signed[:len(signed)-4] + "AAAA"
	if _, err := svc.Verify(tampered); !api.IsCode(err, api.CodeTokenInvalid) {
		t.Errorf("tampered token error = %v, want TOKEN_INVALID", err)
	}

	if _, err := svc.Verify("not-a-token"); !api.IsCode(err, api.CodeTokenInvalid) {
		t.Errorf("garbage token error = %v, want TOKEN_INVALID", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	svc := testService(t)
	id, tenant := testIdentity()
	signed, _, _ := svc.Issue(id, tenant)

	other, _ := New(Config{Secret: "different-secret"})
	if _, err := other.Verify(signed); !api.IsCode(err, api.CodeTokenInvalid) {
		t.Errorf("wrong-secret error = %v, want TOKEN_INVALID", err)
	}
}

func TestSecretRotation(t *testing.T) {
	old, _ := New(Config{Secret: "old-secret"})
	id, tenant := testIdentity()
	signed, _, _ := old.Issue(id, tenant)

	// During the transition the rotated service accepts tokens signed
	// with the previous secret.
	rotated, _ := New(Config{Secret: "new-secret", PreviousSecret: "old-secret"})
	if _, err := rotated.Verify(signed); err != nil {
		t.Errorf("rotated Verify of old token: %v", err)
	}

	// New issuance uses the current secret only.
	reSigned, _, _ := rotated.Issue(id, tenant)
	final, _ := New(Config{Secret: "new-secret"})
	if _, err := final.Verify(reSigned); err != nil {
		t.Errorf("post-rotation Verify: %v", err)
	}
	if _, err := final.Verify(signed); !api.IsCode(err, api.CodeTokenInvalid) {
		t.Errorf("old token after rotation completes = %v, want TOKEN_INVALID", err)
	}
}

func TestRefreshReResolvesIdentity(t *testing.T) {
	svc := testService(t)
	store := memory.New()
	ctx := context.Background()

	tenant := &api.Tenant{ID: api.NewTenantID(), Slug: "acme", Tier: api.TierProfessional, Active: true}
	store.AddTenant(tenant)

	user := &api.Identity{
		ID:          api.NewUserID(),
		TenantID:    tenant.ID,
		Email:       "bob@example.com",
		Role:        api.RoleAdmin,
		Permissions: []string{"billing:write"},
		Active:      true,
	}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatal(err)
	}

	signed, _, _ := svc.Issue(user, tenant)

	// Happy path: a fresh token with current claims.
	refreshed, claims, err := svc.Refresh(ctx, store, signed)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed == "" || claims.UserID != user.ID {
		t.Errorf("refresh result: %q %+v", refreshed, claims)
	}

	// A deleted user cannot refresh.
	orphan, _, _ := svc.Issue(&api.Identity{ID: "usr_gone", Role: api.RoleMember, Active: true}, tenant)
	if _, _, err := svc.Refresh(ctx, store, orphan); !api.IsCode(err, api.CodeIdentityNotFound) {
		t.Errorf("refresh for deleted user = %v, want IDENTITY_NOT_FOUND", err)
	}

	// An expired token cannot refresh.
	svc.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Hour) }
	if _, _, err := svc.Refresh(ctx, store, signed); !api.IsCode(err, api.CodeTokenExpired) {
		t.Errorf("refresh of expired token = %v, want TOKEN_EXPIRED", err)
	}
}
