package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	obserrors "github.com/gatherhq/gather-ui-api/internal/observability/errors"
	"github.com/gatherhq/gather-ui-api/internal/observability/notify"
	"github.com/gatherhq/gather-ui-api/internal/ports"
)

// SessionManagerOptions groups dependencies for SessionManager.
type SessionManagerOptions struct {
	Provider   ports.IdentityProvider // Required
	Resolver   *ProfileResolver       // Required
	Profiles   ports.ProfileStore     // Required: identity updates
	Intents    *IntentStore           // Required: auth-artifact scrubbing
	AuthPrefix string                 // Storage key prefix of provider auth artifacts
	Logger     *slog.Logger           // Optional
	Notifier   notify.Sink            // Optional: incident fan-out
}

// SessionManager owns the authentication lifecycle: bootstrap on startup,
// provider-pushed transitions, credential flows, and the ordered sign-out.
// All state transitions go through the internal mutex; resolutions carry an
// epoch so a slow resolve can never overwrite a newer state.
type SessionManager struct {
	provider   ports.IdentityProvider
	resolver   *ProfileResolver
	profiles   ports.ProfileStore
	intents    *IntentStore
	authPrefix string
	logger     *slog.Logger
	notifier   notify.Sink

	mu       sync.Mutex
	status   identity.Status
	identity *identity.ResolvedIdentity
	epoch    uint64
	subs     map[int]func(identity.Snapshot)
	nextSub  int
	closed   bool

	unsubProvider func()
	wg            sync.WaitGroup
}

var _ ManagerView = (*SessionManager)(nil)

// NewSessionManager constructs a SessionManager and subscribes to provider
// state changes. The manager starts in the loading state; call Initialize to
// bootstrap from any persisted session.
func NewSessionManager(opts SessionManagerOptions) (*SessionManager, error) {
	if opts.Provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("profile resolver is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("profile store is required")
	}
	if opts.Intents == nil {
		return nil, errors.New("intent store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &SessionManager{
		provider:   opts.Provider,
		resolver:   opts.Resolver,
		profiles:   opts.Profiles,
		intents:    opts.Intents,
		authPrefix: opts.AuthPrefix,
		logger:     logger.With("component", "session_manager"),
		notifier:   opts.Notifier,
		status:     identity.StatusLoading,
		subs:       make(map[int]func(identity.Snapshot)),
	}

	// The provider forbids synchronous provider calls inside its callback,
	// so the handler defers the real work to a fresh goroutine.
	m.unsubProvider = opts.Provider.OnAuthStateChange(m.handleProviderEvent)

	return m, nil
}

// Snapshot returns the current read-only view.
func (m *SessionManager) Snapshot() identity.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return identity.Snapshot{Status: m.status, Identity: m.identity}
}

// AwaitIdentity blocks until resolution settles: an identity, a terminal
// no-session answer, or exhausted poll budgets. A caller arriving while the
// manager is still loading (a just-completed OAuth redirect, typically) waits
// instead of being told there is no session.
func (m *SessionManager) AwaitIdentity(ctx context.Context) (*identity.ResolvedIdentity, error) {
	return m.resolver.AwaitIdentity(ctx, m)
}

// Subscribe registers a listener for snapshot changes. The returned function
// removes it. Listeners run synchronously after each transition; they must
// not call back into the manager.
func (m *SessionManager) Subscribe(fn func(identity.Snapshot)) func() {
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

// Initialize bootstraps the session from whatever the provider has persisted.
// Any failure reading the session resolves to unauthenticated rather than
// wedging the application in loading.
func (m *SessionManager) Initialize(ctx context.Context) error {
	sess, err := m.provider.Session(ctx)
	if err != nil {
		if !apperrors.IsUnauthenticated(err) {
			m.logger.WarnContext(ctx, "session bootstrap failed, treating as signed out", "error", err)
		}
		m.setUnauthenticated()
		return nil
	}

	m.resolveSession(ctx, sess)
	return nil
}

// Login authenticates with email/password credentials. Stale auth artifacts
// are scrubbed before the provider call so a half-dead previous session
// cannot contaminate the new one.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*identity.ResolvedIdentity, error) {
	if err := m.intents.ScrubAuthArtifacts(ctx, m.authPrefix); err != nil {
		m.logger.WarnContext(ctx, "pre-login scrub incomplete", "error", err)
	}

	sess, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return m.resolveSession(ctx, sess)
}

// RegisterInput carries sign-up parameters.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        identity.Role
}

// Register creates a provider account and signs in. The chosen role is staged
// in the pending-role slot before the provider call; the resolver consumes it
// when synthesizing or correcting the profile row.
func (m *SessionManager) Register(ctx context.Context, in RegisterInput) (*identity.ResolvedIdentity, error) {
	if in.Email == "" {
		return nil, apperrors.ValidationField("email", "email is required")
	}
	if in.Password == "" {
		return nil, apperrors.ValidationField("password", "password is required")
	}

	if err := m.intents.ScrubAuthArtifacts(ctx, m.authPrefix); err != nil {
		m.logger.WarnContext(ctx, "pre-registration scrub incomplete", "error", err)
	}

	role := in.Role
	if role == "" {
		role = identity.RoleAttendee
	}
	if err := m.intents.SetPendingRole(ctx, role); err != nil {
		return nil, fmt.Errorf("stage pending role: %w", err)
	}

	metadata := map[string]any{"role": string(role)}
	if in.DisplayName != "" {
		metadata["full_name"] = in.DisplayName
	}

	sess, err := m.provider.SignUp(ctx, in.Email, in.Password, metadata)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	id, err := m.resolveSession(ctx, sess)
	if err != nil {
		if clearErr := m.intents.ClearPendingRole(ctx); clearErr != nil {
			m.logger.WarnContext(ctx, "pending role cleanup failed", "error", clearErr)
		}
		return nil, err
	}
	return m.reconcilePendingRole(ctx, id), nil
}

// reconcilePendingRole drains the pending-role slot once registration has
// concluded. The resolver consumes the slot when it synthesizes the row; when
// the server-side trigger creates the row first, resolution returns the
// trigger's default and the slot survives, so the requested role is patched
// onto the row here.
func (m *SessionManager) reconcilePendingRole(ctx context.Context, id *identity.ResolvedIdentity) *identity.ResolvedIdentity {
	role, ok, err := m.intents.TakePendingRole(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "pending role drain failed", "error", err)
		if clearErr := m.intents.ClearPendingRole(ctx); clearErr != nil {
			m.logger.WarnContext(ctx, "pending role cleanup failed", "error", clearErr)
		}
		return id
	}
	if !ok || id == nil || id.Role == role {
		return id
	}

	updated, err := m.UpdateIdentity(ctx, identity.ProfilePatch{Role: &role})
	if err != nil {
		m.logger.WarnContext(ctx, "registered role correction failed",
			"user_id", id.ID, "role", string(role), "error", err)
		return id
	}
	return updated
}

// SignInWithProvider begins a federated sign-in. Returns the URL to redirect
// the user to plus the state and nonce the caller must hold for the return
// leg. Query parameters are mirrored onto the redirect so intents staged in
// them survive providers that drop storage scopes.
func (m *SessionManager) SignInWithProvider(ctx context.Context, provider, redirectURL string, query url.Values) (authURL, state, nonce string, err error) {
	if err := m.intents.ScrubAuthArtifacts(ctx, m.authPrefix); err != nil {
		m.logger.WarnContext(ctx, "pre-oauth scrub incomplete", "error", err)
	}
	return m.provider.OAuthURL(ctx, provider, redirectURL, query)
}

// CompleteOAuth finishes a federated redirect by exchanging the code.
func (m *SessionManager) CompleteOAuth(ctx context.Context, code, nonce string) (*identity.ResolvedIdentity, error) {
	sess, err := m.provider.ExchangeCode(ctx, code, nonce)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return m.resolveSession(ctx, sess)
}

// SignOut tears the session down in strict order: in-memory state first so
// the UI reacts immediately, then storage scopes, then the provider's global
// sign-out. A failed global sign-out falls back to a local one so this
// browsing context always ends signed out.
func (m *SessionManager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	var userID string
	if m.identity != nil {
		userID = m.identity.ID
	}
	m.mu.Unlock()

	m.setUnauthenticated()

	if err := m.intents.ScrubAuthArtifacts(ctx, m.authPrefix); err != nil {
		m.logger.WarnContext(ctx, "sign-out scrub incomplete", "error", err)
	}

	if err := m.provider.SignOut(ctx, identity.SignOutGlobal); err != nil {
		m.logger.WarnContext(ctx, "global sign-out failed, retrying locally", "error", err)
		m.notifyIncident(ctx, notify.FlowSignOut, userID, err)
		if localErr := m.provider.SignOut(ctx, identity.SignOutLocal); localErr != nil {
			return fmt.Errorf("local sign-out: %w", localErr)
		}
	}
	return nil
}

// notifyIncident fans an auth incident out to the configured sink. Delivery
// failures are logged and swallowed; notifications never fail the auth flow.
func (m *SessionManager) notifyIncident(ctx context.Context, flow, userID string, cause error) {
	if m.notifier == nil {
		return
	}
	payload := notify.AuthIncidentPayload{
		Flow:       flow,
		UserID:     userID,
		Error:      cause.Error(),
		ErrorClass: obserrors.Classify(cause),
		Severity:   notify.SeverityWarning,
		OccurredAt: time.Now(),
	}
	if err := m.notifier.SendAuthIncident(ctx, payload); err != nil {
		m.logger.WarnContext(ctx, "incident notification failed", "flow", flow, "error", err)
	}
}

// UpdateIdentity patches the profile row and, when the patch still applies to
// the signed-in user, the in-memory identity.
func (m *SessionManager) UpdateIdentity(ctx context.Context, patch identity.ProfilePatch) (*identity.ResolvedIdentity, error) {
	m.mu.Lock()
	if m.status != identity.StatusAuthenticated || m.identity == nil {
		m.mu.Unlock()
		return nil, apperrors.ErrNoSession
	}
	userID := m.identity.ID
	epoch := m.epoch
	m.mu.Unlock()

	if err := m.profiles.Update(ctx, userID, patch); err != nil {
		return nil, fmt.Errorf("update profile %s: %w", userID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch || m.identity == nil || m.identity.ID != userID {
		// The session changed underneath the update; the write stands but the
		// in-memory identity belongs to someone else now.
		return nil, apperrors.ErrNoSession
	}

	updated := *m.identity
	if patch.DisplayName != nil {
		updated.DisplayName = *patch.DisplayName
	}
	if patch.AvatarURL != nil {
		updated.AvatarURL = *patch.AvatarURL
	}
	if patch.Role != nil {
		updated.Role = *patch.Role
	}
	if patch.ProfileComplete != nil {
		updated.ProfileComplete = *patch.ProfileComplete
	}
	m.identity = &updated
	m.notifyLocked()
	return &updated, nil
}

// Close unsubscribes from the provider and waits for in-flight event
// handlers to drain.
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if m.unsubProvider != nil {
		m.unsubProvider()
	}
	m.wg.Wait()
}

// resolveSession runs profile resolution for a session under a fresh epoch.
func (m *SessionManager) resolveSession(ctx context.Context, sess *identity.Session) (*identity.ResolvedIdentity, error) {
	epoch := m.beginResolution()

	id, err := m.resolver.Resolve(ctx, sess)
	if err != nil {
		m.completeResolution(epoch, nil)
		return nil, err
	}
	m.completeResolution(epoch, id)
	return id, nil
}

// beginResolution bumps the epoch and enters loading. Any resolution begun
// under an older epoch becomes a no-op on completion.
func (m *SessionManager) beginResolution() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.status = identity.StatusLoading
	m.notifyLocked()
	return m.epoch
}

// completeResolution publishes a resolution result unless a newer epoch
// superseded it.
func (m *SessionManager) completeResolution(epoch uint64, id *identity.ResolvedIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		m.logger.Debug("dropping stale resolution", "epoch", epoch, "current", m.epoch)
		return
	}
	if id == nil {
		m.status = identity.StatusUnauthenticated
		m.identity = nil
	} else {
		m.status = identity.StatusAuthenticated
		m.identity = id
	}
	m.notifyLocked()
}

func (m *SessionManager) setUnauthenticated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.status = identity.StatusUnauthenticated
	m.identity = nil
	m.notifyLocked()
}

// handleProviderEvent runs inside the provider's callback. The actual work
// happens on a fresh goroutine so the callback never calls the provider
// reentrantly.
func (m *SessionManager) handleProviderEvent(event identity.AuthEvent, sess *identity.Session) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.processProviderEvent(event, sess)
	}()
}

func (m *SessionManager) processProviderEvent(event identity.AuthEvent, sess *identity.Session) {
	ctx := context.Background()

	switch event {
	case identity.EventSignedOut:
		m.setUnauthenticated()

	case identity.EventSignedIn, identity.EventTokenRefreshed:
		if sess == nil {
			return
		}
		m.mu.Lock()
		alreadyResolved := m.status == identity.StatusAuthenticated &&
			m.identity != nil && m.identity.ID == sess.UserID
		m.mu.Unlock()
		if alreadyResolved {
			// Token refreshes for the current user don't change identity.
			return
		}
		if _, err := m.resolveSession(ctx, sess); err != nil {
			m.logger.Warn("resolution for provider event failed",
				"event", string(event), "user_id", sess.UserID, "error", err)
		}

	default:
		m.logger.Debug("ignoring provider event", "event", string(event))
	}
}

// notifyLocked fans the current snapshot out to subscribers. Caller holds mu.
func (m *SessionManager) notifyLocked() {
	snap := identity.Snapshot{Status: m.status, Identity: m.identity}
	for _, fn := range m.subs {
		fn(snap)
	}
}
