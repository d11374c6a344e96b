package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"net/url"
	"sync"
	"time"

	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.IdentityProvider = (*MockIdentityProvider)(nil)
	_ ports.ProfileStore     = (*MemoryProfileStore)(nil)
	_ ports.MetadataMapper   = (*StaticMetadataMapper)(nil)
	_ ports.EventJoiner      = (*MockEventJoiner)(nil)
)

// MockIdentityProvider simulates an identity provider with deterministic
// sessions. Each method can be overridden per-test via its Func field;
// otherwise the provider serves the configured CurrentSession.
type MockIdentityProvider struct {
	SessionFunc            func(ctx context.Context) (*identity.Session, error)
	UserFunc               func(ctx context.Context) (*identity.UserRecord, error)
	SignInWithPasswordFunc func(ctx context.Context, email, password string) (*identity.Session, error)
	SignUpFunc             func(ctx context.Context, email, password string, metadata map[string]any) (*identity.Session, error)
	OAuthURLFunc           func(ctx context.Context, provider, redirectURL string, query url.Values) (string, string, string, error)
	ExchangeCodeFunc       func(ctx context.Context, code, nonce string) (*identity.Session, error)
	SignOutFunc            func(ctx context.Context, scope identity.SignOutScope) error

	// CurrentSession backs the default behaviors. Nil means signed out.
	CurrentSession *identity.Session
	// CurrentUser backs the default User behavior.
	CurrentUser *identity.UserRecord

	mu      sync.Mutex
	subs    map[int]func(identity.AuthEvent, *identity.Session)
	nextSub int

	// SignOutCalls records the scopes SignOut was invoked with, in order.
	SignOutCalls []identity.SignOutScope
}

// NewMockIdentityProvider creates a signed-out provider.
func NewMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{subs: make(map[int]func(identity.AuthEvent, *identity.Session))}
}

// NewSignedInProvider creates a provider with an active session and matching
// user record for the given id.
func NewSignedInProvider(userID, email string) *MockIdentityProvider {
	p := NewMockIdentityProvider()
	p.CurrentSession = &identity.Session{
		UserID:      userID,
		AccessToken: "token-" + userID,
		Email:       email,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	p.CurrentUser = &identity.UserRecord{ID: userID, Email: email, Metadata: map[string]any{}}
	return p
}

func (m *MockIdentityProvider) Session(ctx context.Context) (*identity.Session, error) {
	if m.SessionFunc != nil {
		return m.SessionFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CurrentSession == nil {
		return nil, apperrors.ErrNoSession
	}
	sess := *m.CurrentSession
	return &sess, nil
}

func (m *MockIdentityProvider) User(ctx context.Context) (*identity.UserRecord, error) {
	if m.UserFunc != nil {
		return m.UserFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CurrentUser == nil {
		return nil, apperrors.ErrNoSession
	}
	user := *m.CurrentUser
	return &user, nil
}

func (m *MockIdentityProvider) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	if m.SignInWithPasswordFunc != nil {
		return m.SignInWithPasswordFunc(ctx, email, password)
	}
	sess := &identity.Session{
		UserID:      "mock-user-1",
		AccessToken: "mock-token",
		Email:       email,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	m.setQuiet(sess)
	m.ensureUser(sess)
	return sess, nil
}

func (m *MockIdentityProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*identity.Session, error) {
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, email, password, metadata)
	}
	m.mu.Lock()
	m.CurrentUser = &identity.UserRecord{ID: "mock-user-1", Email: email, Metadata: metadata}
	m.mu.Unlock()
	return m.SignInWithPassword(ctx, email, password)
}

func (m *MockIdentityProvider) OAuthURL(ctx context.Context, provider, redirectURL string, query url.Values) (string, string, string, error) {
	if m.OAuthURLFunc != nil {
		return m.OAuthURLFunc(ctx, provider, redirectURL, query)
	}
	u := "https://mock-idp/authorize?provider=" + provider
	if len(query) > 0 {
		u += "&" + query.Encode()
	}
	return u, "mock-state", "mock-nonce", nil
}

func (m *MockIdentityProvider) ExchangeCode(ctx context.Context, code, nonce string) (*identity.Session, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, code, nonce)
	}
	sess := &identity.Session{
		UserID:      "mock-user-1",
		AccessToken: "mock-token-" + code,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	m.setQuiet(sess)
	m.ensureUser(sess)
	return sess, nil
}

func (m *MockIdentityProvider) SignOut(ctx context.Context, scope identity.SignOutScope) error {
	m.mu.Lock()
	m.SignOutCalls = append(m.SignOutCalls, scope)
	m.mu.Unlock()
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, scope)
	}
	m.SetSession(nil, identity.EventSignedOut)
	return nil
}

func (m *MockIdentityProvider) OnAuthStateChange(fn func(identity.AuthEvent, *identity.Session)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// setQuiet replaces the current session without notifying subscribers.
// Credential flows use it so tests control event delivery via SetSession.
func (m *MockIdentityProvider) setQuiet(sess *identity.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentSession = sess
}

// ensureUser installs a user record matching the session, as a real provider
// with a live session always answers getUser. An existing record for the same
// user (SignUp's metadata-bearing one) is kept.
func (m *MockIdentityProvider) ensureUser(sess *identity.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CurrentUser != nil && m.CurrentUser.ID == sess.UserID {
		return
	}
	m.CurrentUser = &identity.UserRecord{ID: sess.UserID, Email: sess.Email, Metadata: map[string]any{}}
}

// SetSession replaces the current session and notifies subscribers
// synchronously, mimicking a provider push.
func (m *MockIdentityProvider) SetSession(sess *identity.Session, event identity.AuthEvent) {
	m.mu.Lock()
	m.CurrentSession = sess
	fns := make([]func(identity.AuthEvent, *identity.Session), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(event, sess)
	}
}

// MemoryProfileStore is a map-backed ProfileStore. Func fields override
// individual methods for failure injection.
type MemoryProfileStore struct {
	GetByIDFunc func(ctx context.Context, id string) (*identity.ProfileRow, error)
	InsertFunc  func(ctx context.Context, row identity.ProfileRow) error
	UpdateFunc  func(ctx context.Context, id string, patch identity.ProfilePatch) error

	mu   sync.Mutex
	rows map[string]identity.ProfileRow
}

// NewMemoryProfileStore creates an empty store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{rows: make(map[string]identity.ProfileRow)}
}

// Seed stores a row directly, bypassing any Func override.
func (s *MemoryProfileStore) Seed(row identity.ProfileRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.ID] = row
}

func (s *MemoryProfileStore) GetByID(ctx context.Context, id string) (*identity.ProfileRow, error) {
	if s.GetByIDFunc != nil {
		return s.GetByIDFunc(ctx, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, apperrors.NotFoundf("profile %s not found", id)
	}
	return &row, nil
}

func (s *MemoryProfileStore) Insert(ctx context.Context, row identity.ProfileRow) error {
	if s.InsertFunc != nil {
		return s.InsertFunc(ctx, row)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.ID]; ok {
		return apperrors.Conflictf("profile %s already exists", row.ID)
	}
	s.rows[row.ID] = row
	return nil
}

func (s *MemoryProfileStore) Update(ctx context.Context, id string, patch identity.ProfilePatch) error {
	if s.UpdateFunc != nil {
		return s.UpdateFunc(ctx, id, patch)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return apperrors.NotFoundf("profile %s not found", id)
	}
	if patch.DisplayName != nil {
		row.DisplayName = *patch.DisplayName
	}
	if patch.AvatarURL != nil {
		row.AvatarURL = *patch.AvatarURL
	}
	if patch.Role != nil {
		row.Role = *patch.Role
	}
	if patch.ProfileComplete != nil {
		row.ProfileComplete = *patch.ProfileComplete
	}
	s.rows[id] = row
	return nil
}

// StaticMetadataMapper returns fixed values regardless of the metadata bag.
type StaticMetadataMapper struct {
	Name      string
	Avatar    string
	MapRole   identity.Role
	RoleFound bool
}

func (m StaticMetadataMapper) DisplayName(map[string]any) string { return m.Name }
func (m StaticMetadataMapper) AvatarURL(map[string]any) string   { return m.Avatar }
func (m StaticMetadataMapper) Role(map[string]any) (identity.Role, bool) {
	return m.MapRole, m.RoleFound
}

// MockEventJoiner records join calls and optionally fails them.
type MockEventJoiner struct {
	JoinFunc func(ctx context.Context, userID, code string) error

	mu    sync.Mutex
	Calls []JoinCall
}

// JoinCall records one Join invocation.
type JoinCall struct {
	UserID string
	Code   string
}

func (m *MockEventJoiner) Join(ctx context.Context, userID, code string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, JoinCall{UserID: userID, Code: code})
	m.mu.Unlock()
	if m.JoinFunc != nil {
		return m.JoinFunc(ctx, userID, code)
	}
	return nil
}
