// Command mock-idp runs a deterministic OAuth2/OIDC identity provider for
// integration testing the SSO flow. It implements the three endpoints the
// gateway exchanges with: authorize, token, and userinfo. Every handshake
// resolves to the same fixture user.
//
// Configuration:
//
//	MOCK_IDP_PORT    - Listen port (default: 9090)
//	MOCK_IDP_SUBJECT - Subject returned by userinfo (default: "mock-sub-1")
//	MOCK_IDP_EMAIL   - Email returned by userinfo (default: "dev@example.com")
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
)

func main() {
	port := envOrDefault("MOCK_IDP_PORT", "9090")

	idp := &idp{
		subject: envOrDefault("MOCK_IDP_SUBJECT", "mock-sub-1"),
		email:   envOrDefault("MOCK_IDP_EMAIL", "dev@example.com"),
		codes:   make(map[string]bool),
		tokens:  make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /authorize", idp.handleAuthorize)
	mux.HandleFunc("POST /token", idp.handleToken)
	mux.HandleFunc("GET /userinfo", idp.handleUserInfo)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock idp starting", "port", port, "subject", idp.subject, "email", idp.email)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock idp failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock idp shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

type idp struct {
	subject string
	email   string

	mu     sync.Mutex
	codes  map[string]bool
	tokens map[string]bool
}

// handleAuthorize plays the user-consent step: it immediately redirects back
// to the relying party's redirect_uri with a fresh single-use code, echoing
// the state parameter.
func (i *idp) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" {
		http.Error(w, "missing redirect_uri", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := randomToken("code")
	i.mu.Lock()
	i.codes[code] = true
	i.mu.Unlock()

	tq := target.Query()
	tq.Set("code", code)
	tq.Set("state", q.Get("state"))
	target.RawQuery = tq.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// handleToken exchanges a single-use code for an access token.
func (i *idp) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request")
		return
	}
	code := r.PostFormValue("code")

	i.mu.Lock()
	valid := i.codes[code]
	delete(i.codes, code)
	var access string
	if valid {
		access = randomToken("at")
		i.tokens[access] = true
	}
	i.mu.Unlock()

	if !valid {
		writeOAuthError(w, "invalid_grant")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// handleUserInfo returns the fixture identity for a valid access token.
func (i *idp) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	i.mu.Lock()
	valid := i.tokens[h[len(prefix):]]
	i.mu.Unlock()
	if !valid {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sub":            i.subject,
		"email":          i.email,
		"email_verified": true,
		"given_name":     "Mock",
		"family_name":    "User",
	})
}

func writeOAuthError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}

func randomToken(prefix string) string {
	b := make([]byte, 16)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
