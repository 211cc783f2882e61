package transport

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/zutritt/pkg/api"
	"github.com/rhuss/zutritt/pkg/audit"
	"github.com/rhuss/zutritt/pkg/auth"
	"github.com/rhuss/zutritt/pkg/auth/password"
	"github.com/rhuss/zutritt/pkg/auth/sso"
	"github.com/rhuss/zutritt/pkg/auth/token"
	"github.com/rhuss/zutritt/pkg/observability"
	"github.com/rhuss/zutritt/pkg/storage"
)

// defaultMaxBodySize caps request bodies on the auth endpoints. Credential
// payloads are tiny; anything near this limit is abuse.
const defaultMaxBodySize = 64 * 1024

// Handlers holds the collaborators behind the HTTP endpoints.
type Handlers struct {
	Passwords *password.Authenticator
	Tokens    *token.Service
	Store     storage.IdentityStore
	SSO       *sso.Gateway
	Audit     auth.Auditor
	Throttle  *IPThrottle
	Logger    *slog.Logger

	// MaxBodySize overrides the request body cap. Zero uses the default.
	MaxBodySize int64
}

// Routes registers the public auth endpoints on the mux. The /v1/auth/me
// endpoint expects the authentication middleware to have run; everything
// else is reachable unauthenticated.
func (h *Handlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/auth/login", h.handleLogin)
	mux.HandleFunc("POST /v1/auth/refresh", h.handleRefresh)
	mux.HandleFunc("GET /v1/auth/sso/{provider}/initiate", h.handleSSOInitiate)
	mux.HandleFunc("GET /v1/auth/sso/{provider}/callback", h.handleSSOCallback)
	mux.HandleFunc("POST /v1/auth/sso/{provider}/callback", h.handleSSOCallback)
	mux.HandleFunc("GET /v1/auth/me", h.handleMe)
}

// ---------------------------------------------------------------------------
// Login and refresh
// ---------------------------------------------------------------------------

type loginRequest struct {
	Tenant   string `json:"tenant,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      *api.Identity `json:"user,omitempty"`
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if retry, ok := h.Throttle.Allow(ip); !ok {
		h.writeError(w, api.NewRetryableError(api.CodeRateLimitExceeded, "too many login attempts", retry))
		return
	}

	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, tenant, err := h.Passwords.Login(r.Context(), password.Request{
		TenantSlug: req.Tenant,
		Email:      req.Email,
		Password:   req.Password,
		ClientIP:   ip,
	})
	if err != nil {
		observability.LoginsTotal.WithLabelValues("failure").Inc()
		h.writeError(w, api.AsError(err))
		return
	}

	signed, claims, err := h.Tokens.Issue(id, tenant)
	if err != nil {
		h.logError(r, "issuing session token", err)
		observability.LoginsTotal.WithLabelValues("failure").Inc()
		h.writeError(w, api.Internal(err))
		return
	}

	observability.LoginsTotal.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      id,
	})
}

type refreshRequest struct {
	Token string `json:"token"`
}

func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if retry, ok := h.Throttle.Allow(ip); !ok {
		h.writeError(w, api.NewRetryableError(api.CodeRateLimitExceeded, "too many requests", retry))
		return
	}

	// The token may arrive as a Bearer header or in the body.
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		var req refreshRequest
		if !h.decode(w, r, &req) {
			return
		}
		tokenStr = req.Token
	}
	if tokenStr == "" {
		h.writeError(w, api.NewError(api.CodeTokenInvalid, "no token presented"))
		return
	}

	signed, claims, err := h.Tokens.Refresh(r.Context(), h.Store, tokenStr)
	if err != nil {
		h.emit(audit.Event{
			Type:     audit.EventTokenRefreshFail,
			ClientIP: ip,
			Detail:   map[string]any{"reason": errorReason(err)},
		})
		h.writeError(w, api.AsError(err))
		return
	}

	h.emit(audit.Event{
		TenantID: claims.TenantID,
		Type:     audit.EventTokenRefreshed,
		ActorID:  claims.UserID,
		ClientIP: ip,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

// ---------------------------------------------------------------------------
// SSO
// ---------------------------------------------------------------------------

type ssoInitiateResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

func (h *Handlers) handleSSOInitiate(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")
	q := r.URL.Query()

	tenantSlug := q.Get("tenant")
	if tenantSlug == "" {
		h.writeError(w, api.NewError(api.CodeTenantNotFound, "tenant query parameter is required"))
		return
	}

	authURL, err := h.SSO.Initiate(r.Context(), tenantSlug, provider, q.Get("redirect_uri"))
	if err != nil {
		observability.SSOHandshakesTotal.WithLabelValues(provider, "initiate_failed").Inc()
		h.writeError(w, api.AsError(err))
		return
	}
	observability.SSOHandshakesTotal.WithLabelValues(provider, "initiated").Inc()

	// Browser flows get a redirect; API clients asking for JSON get the URL.
	if q.Get("redirect") == "false" {
		writeJSON(w, http.StatusOK, ssoInitiateResponse{AuthorizationURL: authURL})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handlers) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	provider := r.PathValue("provider")

	cb := sso.Callback{ClientIP: clientIP(r)}
	if r.Method == http.MethodPost {
		// SAML POST binding delivers the response as form fields.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody())
		if err := r.ParseForm(); err != nil {
			h.writeError(w, api.NewError(api.CodeSSOExchangeFailed, "malformed callback"))
			return
		}
		cb.Code = r.PostFormValue("code")
		cb.State = r.PostFormValue("state")
		cb.SAMLResponse = r.PostFormValue("SAMLResponse")
		cb.RelayState = r.PostFormValue("RelayState")
	} else {
		q := r.URL.Query()
		cb.Code = q.Get("code")
		cb.State = q.Get("state")
		cb.SAMLResponse = q.Get("SAMLResponse")
		cb.RelayState = q.Get("RelayState")
	}

	signed, claims, err := h.SSO.HandleCallback(r.Context(), provider, cb)
	if err != nil {
		observability.SSOHandshakesTotal.WithLabelValues(provider, "failed").Inc()
		h.writeError(w, api.AsError(err))
		return
	}
	observability.SSOHandshakesTotal.WithLabelValues(provider, "completed").Inc()

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

// ---------------------------------------------------------------------------
// Me
// ---------------------------------------------------------------------------

type meResponse struct {
	Method string        `json:"method"`
	User   *api.Identity `json:"user,omitempty"`
	Key    *api.APIKey   `json:"key,omitempty"`
	Tenant *api.Tenant   `json:"tenant,omitempty"`
}

func (h *Handlers) handleMe(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		h.writeError(w, api.NewError(api.CodeTokenInvalid, "authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Method: p.Method,
		User:   p.Identity,
		Key:    p.Key,
		Tenant: p.Tenant,
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// decode reads a JSON body into dst, rejecting oversized or malformed input.
// Returns false after writing an error response.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody())
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, api.NewError(api.CodeInvalidCredentials, "malformed request body"))
		return false
	}
	return true
}

func (h *Handlers) maxBody() int64 {
	if h.MaxBodySize > 0 {
		return h.MaxBodySize
	}
	return defaultMaxBodySize
}

func (h *Handlers) writeError(w http.ResponseWriter, err *api.Error) {
	auth.WriteError(w, err)
}

func (h *Handlers) emit(ev audit.Event) {
	if h.Audit != nil {
		h.Audit.Emit(ev)
	}
}

func (h *Handlers) logError(r *http.Request, msg string, err error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	)
}

// errorReason yields the stable code of err for audit detail. Errors that
// are not typed api errors collapse to INTERNAL_ERROR.
func errorReason(err error) string {
	if e := api.AsError(err); e != nil {
		return string(e.Code)
	}
	return string(api.CodeInternal)
}

// bearerToken extracts a Bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// clientIP resolves the caller address: the first X-Forwarded-For hop when
// present, otherwise the connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding response", "error", err)
	}
}
