package devauth

// Package devauth provides a config-driven, in-memory identity provider for
// local development (AUTH_MODE=mock). It short-circuits every network call
// and is also the workhorse double for service-level tests.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

var _ ports.IdentityProvider = (*Provider)(nil)

// Config controls the dev auth provider behavior.
type Config struct {
	UserID          string
	Email           string
	Metadata        map[string]any
	SessionDuration time.Duration // default 8h when zero
}

// Provider implements ports.IdentityProvider entirely in memory.
type Provider struct {
	sessionDuration time.Duration

	mu      sync.Mutex
	userID  string
	email   string
	meta    map[string]any
	current *identity.Session
	subs    map[int]func(identity.AuthEvent, *identity.Session)
	nextSub int

	// SignOutGlobalErr, when set, makes global sign-out fail. Test hook for
	// the manager's retry-with-local-scope path.
	SignOutGlobalErr error
}

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	meta := make(map[string]any, len(cfg.Metadata))
	for k, v := range cfg.Metadata {
		meta[k] = v
	}
	return &Provider{
		sessionDuration: dur,
		userID:          cfg.UserID,
		email:           cfg.Email,
		meta:            meta,
		subs:            make(map[int]func(identity.AuthEvent, *identity.Session)),
	}, nil
}

func (p *Provider) Session(_ context.Context) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil || time.Now().After(p.current.ExpiresAt) {
		return nil, apperrors.ErrNoSession
	}
	sess := *p.current
	return &sess, nil
}

func (p *Provider) User(_ context.Context) (*identity.UserRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil, apperrors.ErrNoSession
	}
	meta := make(map[string]any, len(p.meta))
	for k, v := range p.meta {
		meta[k] = v
	}
	return &identity.UserRecord{ID: p.userID, Email: p.email, Metadata: meta}, nil
}

// SignInWithPassword accepts any non-empty credentials for the configured user.
func (p *Provider) SignInWithPassword(_ context.Context, email, password string) (*identity.Session, error) {
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}
	if email != p.email {
		return nil, apperrors.Unauthenticated("unknown dev user")
	}
	return p.establish(), nil
}

// SignUp replaces the configured user with the registered one and signs in.
func (p *Provider) SignUp(_ context.Context, email, password string, metadata map[string]any) (*identity.Session, error) {
	if email == "" || password == "" {
		return nil, apperrors.Validation("email and password are required")
	}

	p.mu.Lock()
	p.userID = uuid.NewString()
	p.email = email
	p.meta = make(map[string]any, len(metadata))
	for k, v := range metadata {
		p.meta[k] = v
	}
	p.mu.Unlock()

	return p.establish(), nil
}

// OAuthURL returns a local callback URL; the standard handler expects
// GET /auth/callback?code=...&state=... plus the mirrored query params.
func (p *Provider) OAuthURL(_ context.Context, _, _ string, query url.Values) (string, string, string, error) {
	state, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomString(24)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	q := url.Values{}
	for k := range query {
		q.Set(k, query.Get(k))
	}
	q.Set("code", "dev")
	q.Set("state", state)
	return "/auth/callback?" + q.Encode(), state, nonce, nil
}

// ExchangeCode ignores the code (validated by the handler) and returns a
// fresh session for the configured identity.
func (p *Provider) ExchangeCode(_ context.Context, code, _ string) (*identity.Session, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	return p.establish(), nil
}

func (p *Provider) SignOut(_ context.Context, scope identity.SignOutScope) error {
	p.mu.Lock()
	p.current = nil
	globalErr := p.SignOutGlobalErr
	p.mu.Unlock()

	p.emit(identity.EventSignedOut, nil)

	if scope == identity.SignOutGlobal && globalErr != nil {
		return globalErr
	}
	return nil
}

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

// SetSession installs a session directly and notifies subscribers. Test hook
// for simulating provider-pushed transitions (e.g., signed in elsewhere).
func (p *Provider) SetSession(sess *identity.Session) {
	p.mu.Lock()
	p.current = sess
	p.mu.Unlock()

	if sess != nil {
		p.emit(identity.EventSignedIn, sess)
	} else {
		p.emit(identity.EventSignedOut, nil)
	}
}

func (p *Provider) establish() *identity.Session {
	p.mu.Lock()
	sess := &identity.Session{
		UserID:      p.userID,
		AccessToken: uuid.NewString(),
		Email:       p.email,
		ExpiresAt:   time.Now().Add(p.sessionDuration),
	}
	p.current = sess
	out := *sess
	p.mu.Unlock()

	p.emit(identity.EventSignedIn, &out)
	return &out
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

func randomString(n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	b := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:n], nil
}
