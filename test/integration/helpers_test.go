// Package integration exercises the auth service end to end: a real HTTP
// server assembled the way production wires it, backed by the memory store
// and an in-process mock identity provider for the SSO flow.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/auth"
	"github.com/rhuss/zutritt/pkg/auth/apikey"
	"github.com/rhuss/zutritt/pkg/auth/password"
	"github.com/rhuss/zutritt/pkg/auth/sso"
	"github.com/rhuss/zutritt/pkg/auth/token"
	"github.com/rhuss/zutritt/pkg/ratelimit"
	"github.com/rhuss/zutritt/pkg/storage"
	"github.com/rhuss/zutritt/pkg/storage/memory"
	"github.com/rhuss/zutritt/pkg/transport"
	transporthttp "github.com/rhuss/zutritt/pkg/transport/http"
)

// starterLimit is the per-minute request allowance wired for the starter
// tier in this environment, kept small so the rate-limit test stays fast.
const starterLimit = 3

var testEnv *TestEnvironment

// TestEnvironment holds the auth server, the mock IdP, and the seeded
// fixtures shared by all integration tests.
type TestEnvironment struct {
	Server *httptest.Server
	IdP    *httptest.Server

	Store  *memory.Store
	Tokens *token.Service

	// Enterprise tenant with a google SSO provider configured.
	Acme      *api.Tenant
	Alice     *api.Identity // password login fixture
	Bob       *api.Identity // lockout fixture, mutated by tests
	AcmeKey   string        // raw API key for acme
	AlicePass string
	BobPass   string

	// Starter tenant used for rate-limit tests.
	Globex    *api.Tenant
	Carol     *api.Identity
	CarolPass string
}

func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

func setupTestEnvironment() *TestEnvironment {
	env := &TestEnvironment{
		Store:     memory.New(),
		AlicePass: "alice-pw-1",
		BobPass:   "bob-pw-1",
		CarolPass: "carol-pw-1",
	}

	env.IdP = startMockIdP()

	tokens, err := token.New(token.Config{Secret: "integration-secret"})
	if err != nil {
		panic(fmt.Sprintf("token service: %v", err))
	}
	env.Tokens = tokens

	env.Acme = &api.Tenant{ID: api.NewTenantID(), Slug: "acme", Tier: api.TierEnterprise, Active: true}
	env.Store.AddTenant(env.Acme)
	env.Store.AddProviderConfig(env.Acme.ID, &storage.ProviderConfig{
		Provider:     "google",
		ClientID:     "integration-client",
		ClientSecret: "integration-secret",
		AuthURL:      env.IdP.URL + "/authorize",
		TokenURL:     env.IdP.URL + "/token",
		UserInfoURL:  env.IdP.URL + "/userinfo",
	})

	env.Globex = &api.Tenant{ID: api.NewTenantID(), Slug: "globex", Tier: api.TierStarter, Active: true}
	env.Store.AddTenant(env.Globex)

	hasher := password.BcryptHasher{Cost: bcrypt.MinCost}
	env.Alice = seedUser(env.Store, hasher, env.Acme.ID, "alice@acme.test", env.AlicePass)
	env.Bob = seedUser(env.Store, hasher, env.Acme.ID, "bob@acme.test", env.BobPass)
	env.Carol = seedUser(env.Store, hasher, env.Globex.ID, "carol@globex.test", env.CarolPass)

	raw, hash := apikey.Generate()
	env.AcmeKey = raw
	if err := env.Store.CreateKey(context.Background(), &api.APIKey{
		ID: api.NewKeyID(), TenantID: env.Acme.ID, Name: "integration",
		KeyHash: hash, Permissions: []string{"reports:read"}, Active: true,
	}); err != nil {
		panic(err)
	}

	states := sso.NewMemoryStateStore()
	dispatcher := audit.NewDispatcher(&audit.SlogSink{}, audit.Config{}, nil)

	handlers := &transport.Handlers{
		Passwords: password.New(env.Store, hasher, dispatcher, nil),
		Tokens:    tokens,
		Store:     env.Store,
		SSO:       sso.New(env.Store, env.Store, states, tokens, dispatcher, nil, sso.Options{}),
		Audit:     dispatcher,
	}

	keys := apikey.New(env.Store, env.Store, nil, dispatcher, nil)
	chain := &auth.Chain{Authenticators: []auth.Authenticator{
		&auth.TokenAuthenticator{Tokens: tokens, Store: env.Store},
		&auth.KeyAuthenticator{Keys: keys},
	}}

	limiter := auth.NewRequestLimiter(ratelimit.NewLocalLimiter(0), auth.TierLimits{
		api.TierStarter:      starterLimit,
		api.TierProfessional: 300,
		api.TierEnterprise:   0, // unlimited, keeps unrelated tests out of each other's windows
	})

	srv := transporthttp.NewServer(handlers, chain, limiter, dispatcher)
	env.Server = httptest.NewServer(srv.Handler())
	return env
}

func seedUser(store *memory.Store, hasher password.BcryptHasher, tenantID, email, pw string) *api.Identity {
	hash, err := hasher.Hash(pw)
	if err != nil {
		panic(err)
	}
	u := &api.Identity{
		ID: api.NewUserID(), TenantID: tenantID, Email: email,
		Role: api.RoleMember, Active: true, PasswordHash: hash,
	}
	if err := store.CreateUser(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

// Teardown stops both servers.
func (env *TestEnvironment) Teardown() {
	if env.Server != nil {
		env.Server.Close()
	}
	if env.IdP != nil {
		env.IdP.Close()
	}
}

// BaseURL returns the auth server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.Server.URL
}

// login authenticates the given credentials and returns the session token.
func (env *TestEnvironment) login(t *testing.T, tenant, email, pw string) string {
	t.Helper()
	resp := postJSON(t, env.BaseURL()+"/v1/auth/login",
		map[string]string{"tenant": tenant, "email": email, "password": pw})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", resp.StatusCode, readBody(t, resp))
	}
	var out struct {
		Token string `json:"token"`
	}
	decodeJSON(t, resp, &out)
	return out.Token
}

// --- HTTP helpers ---

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func getWithHeader(t *testing.T, url, header, value string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	if header != "" {
		req.Header.Set(header, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
}

// errorCode extracts the machine-readable code from an error response body.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var out api.ErrorResponse
	decodeJSON(t, resp, &out)
	if out.Error == nil {
		t.Fatal("response carried no error object")
	}
	return string(out.Error.Code)
}

// --- Mock identity provider ---

// startMockIdP serves the OAuth2 endpoints the SSO gateway exchanges with.
// The authorize endpoint immediately redirects back with a fixed code.
func startMockIdP() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		target, err := url.Parse(q.Get("redirect_uri"))
		if err != nil || target.String() == "" {
			http.Error(w, "missing redirect_uri", http.StatusBadRequest)
			return
		}
		tq := target.Query()
		tq.Set("code", "idp-code-1")
		tq.Set("state", q.Get("state"))
		target.RawQuery = tq.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostFormValue("code") != "idp-code-1" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"idp-at-1","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer idp-at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"sub":"idp-sub-1","email":"dana@acme.test","email_verified":true}`)
	})
	return httptest.NewServer(mux)
}
