package oidc

// Package oidc implements the identity-provider port over an OIDC/OAuth2
// identity service. The provider owns session tokens; this adapter caches
// the current session and pushes state-change events to subscribers, which
// is the only push channel the rest of the subsystem sees.

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

var _ ports.IdentityProvider = (*Provider)(nil)

// ProviderConfig holds configuration for the OIDC identity provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	DiscoveryURL string
	// SignUpURL is the provider's registration endpoint (GoTrue-style
	// /signup). Optional; SignUp fails when unset.
	SignUpURL string
	// LogoutURL is the provider's global revocation endpoint. Optional;
	// global sign-out degrades to local when unset.
	LogoutURL  string
	HTTPClient *http.Client // Optional, defaults to a 30s-timeout client
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// Provider implements ports.IdentityProvider using OIDC/OAuth2.
type Provider struct {
	config     *oauth2.Config
	signupURL  string
	logoutURL  string
	httpClient *http.Client

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier

	mu      sync.Mutex
	current *identity.Session
	token   *oauth2.Token
	subs    map[int]func(identity.AuthEvent, *identity.Session)
	nextSub int
}

// NewProvider creates a new OIDC identity provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if cfg.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	p := &Provider{
		signupURL:  cfg.SignUpURL,
		logoutURL:  cfg.LogoutURL,
		httpClient: httpClient,
		subs:       make(map[int]func(identity.AuthEvent, *identity.Session)),
	}

	// Single discovery fetch at construction
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(cfg.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: cfg.ClientID})

	p.config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       strings.Fields(cfg.Scope),
		Endpoint:     op.Endpoint(),
	}

	return p, nil
}

// Session returns the cached current session, or ErrNoSession when absent or
// expired. This never hits the network: the provider pushed the session to
// us at sign-in time.
func (p *Provider) Session(_ context.Context) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil, apperrors.ErrNoSession
	}
	if time.Now().After(p.current.ExpiresAt) {
		return nil, apperrors.ErrNoSession
	}
	sess := *p.current
	return &sess, nil
}

// User fetches the provider-side user record via the userinfo endpoint.
func (p *Provider) User(ctx context.Context) (*identity.UserRecord, error) {
	p.mu.Lock()
	token := p.token
	p.mu.Unlock()

	if token == nil {
		return nil, apperrors.ErrNoSession
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}

	var claims map[string]any
	if claimsErr := ui.Claims(&claims); claimsErr != nil {
		return nil, fmt.Errorf("decode user info: %w", claimsErr)
	}

	return &identity.UserRecord{
		ID:       ui.Subject,
		Email:    ui.Email,
		Metadata: claims,
	}, nil
}

// SignInWithPassword authenticates with the resource-owner password grant.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("password sign-in: %w", err)
	}

	sess, err := p.sessionFromToken(ctx, token, "")
	if err != nil {
		return nil, err
	}
	p.setSession(sess, token)
	return sess, nil
}

// SignUp registers a new user at the provider's signup endpoint, then signs
// in with the new credentials to obtain a session. Metadata rides along so
// the provider-side trigger can seed the profile row from it.
func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*identity.Session, error) {
	if p.signupURL == "" {
		return nil, apperrors.Internal("provider signup endpoint is not configured")
	}
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}

	body, err := json.Marshal(map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal signup payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.signupURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build signup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, apperrors.Conflict("account already exists")
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.Internalf("signup rejected with status %d", resp.StatusCode)
	}

	return p.SignInWithPassword(ctx, email, password)
}

// OAuthURL builds the federated sign-in URL with fresh state and nonce.
// Extra query parameters are mirrored so the redirect return can recover
// pre-auth context (role, eventCode) even when storage scopes were dropped.
func (p *Provider) OAuthURL(_ context.Context, provider, redirectURL string, query url.Values) (string, string, string, error) {
	if redirectURL == "" {
		return "", "", "", errors.New("redirect URL is required")
	}

	state, err := generateRandomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("response_type", "code"),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	}
	if provider != "" {
		opts = append(opts, oauth2.SetAuthURLParam("provider", provider))
	}
	for k := range query {
		opts = append(opts, oauth2.SetAuthURLParam(k, query.Get(k)))
	}

	return p.config.AuthCodeURL(state, opts...), state, nonce, nil
}

// ExchangeCode completes a federated redirect by exchanging the
// authorization code for a session, verifying the id_token nonce.
func (p *Provider) ExchangeCode(ctx context.Context, code, nonce string) (*identity.Session, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code for token: %w", err)
	}

	sess, err := p.sessionFromToken(ctx, token, nonce)
	if err != nil {
		return nil, err
	}
	p.setSession(sess, token)
	return sess, nil
}

// SignOut clears the cached session and, for global scope, revokes it at the
// provider. The local cache is cleared before the network call so a failed
// revocation never resurrects the session.
func (p *Provider) SignOut(ctx context.Context, scope identity.SignOutScope) error {
	p.mu.Lock()
	token := p.token
	p.current = nil
	p.token = nil
	p.mu.Unlock()

	p.emit(identity.EventSignedOut, nil)

	if scope != identity.SignOutGlobal || p.logoutURL == "" || token == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.logoutURL, nil)
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("global sign-out: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apperrors.Internalf("global sign-out rejected with status %d", resp.StatusCode)
	}
	return nil
}

// OnAuthStateChange registers a callback for provider-pushed transitions.
// Callbacks run on the goroutine that triggered the transition; subscribers
// must not call back into the provider synchronously.
func (p *Provider) OnAuthStateChange(fn func(identity.AuthEvent, *identity.Session)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Provider) setSession(sess *identity.Session, token *oauth2.Token) {
	p.mu.Lock()
	p.current = sess
	p.token = token
	p.mu.Unlock()

	p.emit(identity.EventSignedIn, sess)
}

func (p *Provider) emit(event identity.AuthEvent, sess *identity.Session) {
	p.mu.Lock()
	fns := make([]func(identity.AuthEvent, *identity.Session), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(event, sess)
	}
}

// sessionFromToken builds a Session from a token response, preferring the
// verified id_token subject for the user id.
func (p *Provider) sessionFromToken(ctx context.Context, token *oauth2.Token, expectedNonce string) (*identity.Session, error) {
	expiresAt := time.Now().Add(time.Hour)
	if !token.Expiry.IsZero() {
		expiresAt = token.Expiry
	}

	sess := &identity.Session{
		AccessToken: token.AccessToken,
		ExpiresAt:   expiresAt,
	}

	rawID, ok := token.Extra("id_token").(string)
	if ok && rawID != "" {
		idTok, err := p.verifier.Verify(ctx, rawID)
		if err != nil {
			return nil, fmt.Errorf("verify id_token: %w", err)
		}
		var claims struct {
			Email string `json:"email"`
			Nonce string `json:"nonce"`
		}
		if claimsErr := idTok.Claims(&claims); claimsErr != nil {
			return nil, fmt.Errorf("parse id_token claims: %w", claimsErr)
		}
		if expectedNonce != "" && claims.Nonce != expectedNonce {
			return nil, errors.New("invalid nonce")
		}
		sess.UserID = idTok.Subject
		sess.Email = claims.Email
		return sess, nil
	}

	// No id_token in the response; fall back to the userinfo endpoint.
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("resolve subject from user info: %w", err)
	}
	sess.UserID = ui.Subject
	sess.Email = ui.Email
	return sess, nil
}

// generateRandomString returns a URL-safe random string of length n.
func generateRandomString(n int) (string, error) {
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
