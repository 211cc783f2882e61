package sso

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/rhuss/zutritt/pkg/storage"
)

// exchangeTimeout bounds the outbound code exchange plus the userinfo fetch.
// A slow provider must not hold a gateway worker longer than this.
const exchangeTimeout = 5 * time.Second

// maxUserInfoBody caps the userinfo response we are willing to read.
const maxUserInfoBody = 1 << 20

// ExternalIdentity is a provider callback normalized to the fields the
// identity resolution step needs, regardless of protocol.
type ExternalIdentity struct {
	// Subject is the provider's stable identifier for the user.
	Subject string

	Email     string
	FirstName string
	LastName  string
}

// oauthProvider describes one OAuth2/OIDC provider: default endpoints,
// scopes, and how to read its userinfo response. Tenant configuration can
// override any endpoint; Okta has no defaults because endpoints are
// per-organization.
type oauthProvider struct {
	scopes      []string
	authURL     string
	tokenURL    string
	userInfoURL string
	normalize   func(body []byte) (*ExternalIdentity, error)
}

var oauthProviders = map[string]oauthProvider{
	"google": {
		scopes:      []string{"openid", "email", "profile"},
		authURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:    "https://oauth2.googleapis.com/token",
		userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		normalize:   normalizeOIDC,
	},
	"microsoft": {
		scopes:      []string{"openid", "email", "profile", "User.Read"},
		authURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		tokenURL:    "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		userInfoURL: "https://graph.microsoft.com/v1.0/me",
		normalize:   normalizeGraph,
	},
	"okta": {
		scopes:    []string{"openid", "email", "profile"},
		normalize: normalizeOIDC,
	},
}

// oauthConfig assembles the oauth2 configuration for one handshake,
// preferring tenant-configured endpoints over provider defaults.
func oauthConfig(cfg *storage.ProviderConfig, p oauthProvider, redirectURI string) (*oauth2.Config, error) {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = p.authURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = p.tokenURL
	}
	if authURL == "" || tokenURL == "" {
		return nil, fmt.Errorf("provider %q has no authorization or token endpoint configured", cfg.Provider)
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       p.scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}, nil
}

// exchangeCode trades the authorization code for a token and fetches the
// userinfo document, all within the exchange timeout.
func (g *Gateway) exchangeCode(ctx context.Context, cfg *storage.ProviderConfig, p oauthProvider, code, redirectURI string) (*ExternalIdentity, error) {
	conf, err := oauthConfig(cfg, p, redirectURI)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = p.userInfoURL
	}
	if userInfoURL == "" {
		return nil, errors.New("no userinfo endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBody))
	if err != nil {
		return nil, fmt.Errorf("reading userinfo: %w", err)
	}
	return p.normalize(body)
}

// normalizeOIDC reads a standard OIDC userinfo document (Google, Okta).
func normalizeOIDC(body []byte) (*ExternalIdentity, error) {
	var info struct {
		Sub        string `json:"sub"`
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, errors.New("userinfo missing subject")
	}
	return &ExternalIdentity{
		Subject:   info.Sub,
		Email:     info.Email,
		FirstName: info.GivenName,
		LastName:  info.FamilyName,
	}, nil
}

// normalizeGraph reads a Microsoft Graph /me document. Personal accounts
// leave "mail" empty; the userPrincipalName carries the address then.
func normalizeGraph(body []byte) (*ExternalIdentity, error) {
	var info struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
		GivenName         string `json:"givenName"`
		Surname           string `json:"surname"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding userinfo: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("userinfo missing subject")
	}
	email := info.Mail
	if email == "" {
		email = info.UserPrincipalName
	}
	return &ExternalIdentity{
		Subject:   info.ID,
		Email:     email,
		FirstName: info.GivenName,
		LastName:  info.Surname,
	}, nil
}
