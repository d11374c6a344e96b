package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhq/gather-ui-api/internal/adapters/memscope"
	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
	mockauth "github.com/gatherhq/gather-ui-api/internal/mocks/auth"
)

type managerFixture struct {
	manager  *SessionManager
	provider *mockauth.MockIdentityProvider
	profiles *mockauth.MemoryProfileStore
	intents  *IntentStore
	short    *memscope.Store
	durable  *memscope.Store
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	provider := mockauth.NewMockIdentityProvider()
	profiles := mockauth.NewMemoryProfileStore()
	short := memscope.New()
	durable := memscope.New()

	intents, err := NewIntentStore(IntentStoreOptions{ShortLived: short, Durable: durable})
	require.NoError(t, err)

	resolver, err := NewProfileResolver(ProfileResolverOptions{
		Provider: provider,
		Profiles: profiles,
		Mapper:   mockauth.StaticMetadataMapper{Name: "Managed User"},
		Intents:  intents,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	manager, err := NewSessionManager(SessionManagerOptions{
		Provider:   provider,
		Resolver:   resolver,
		Profiles:   profiles,
		Intents:    intents,
		AuthPrefix: "sb-auth.",
	})
	require.NoError(t, err)
	t.Cleanup(manager.Close)

	return &managerFixture{
		manager: manager, provider: provider, profiles: profiles,
		intents: intents, short: short, durable: durable,
	}
}

func TestSessionManager_StartsLoading(t *testing.T) {
	f := newManagerFixture(t)

	snap := f.manager.Snapshot()
	assert.Equal(t, identity.StatusLoading, snap.Status)
	assert.Nil(t, snap.Identity)
}

func TestSessionManager_Initialize_NoSession(t *testing.T) {
	f := newManagerFixture(t)

	require.NoError(t, f.manager.Initialize(context.Background()))

	snap := f.manager.Snapshot()
	assert.Equal(t, identity.StatusUnauthenticated, snap.Status)
}

func TestSessionManager_Initialize_SessionReadFailureIsSignedOut(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.SessionFunc = func(context.Context) (*identity.Session, error) {
		return nil, apperrors.Internal("provider unreachable")
	}

	require.NoError(t, f.manager.Initialize(context.Background()))
	assert.Equal(t, identity.StatusUnauthenticated, f.manager.Snapshot().Status)
}

func TestSessionManager_Initialize_ExistingSessionResolves(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.CurrentSession = &identity.Session{
		UserID: "u1", Email: "u1@example.com", ExpiresAt: time.Now().Add(time.Hour),
	}
	f.provider.CurrentUser = &identity.UserRecord{ID: "u1", Email: "u1@example.com"}
	f.profiles.Seed(identity.ProfileRow{ID: "u1", DisplayName: "Restored", Role: identity.RoleHost})

	require.NoError(t, f.manager.Initialize(context.Background()))

	snap := f.manager.Snapshot()
	assert.Equal(t, identity.StatusAuthenticated, snap.Status)
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "Restored", snap.Identity.DisplayName)
}

func TestSessionManager_Login_ResolvesAndScrubs(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	// Leftover artifacts from a previous half-dead session.
	require.NoError(t, f.durable.Set(ctx, "sb-auth.token", "stale", 0))

	id, err := f.manager.Login(ctx, "user@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Managed User", id.DisplayName)
	assert.Equal(t, identity.StatusAuthenticated, f.manager.Snapshot().Status)

	v, err := f.durable.Get(ctx, "sb-auth.token")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSessionManager_Login_ProviderRejection(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.SignInWithPasswordFunc = func(context.Context, string, string) (*identity.Session, error) {
		return nil, apperrors.Unauthenticated("invalid credentials")
	}

	_, err := f.manager.Login(context.Background(), "user@example.com", "wrong")
	assert.True(t, apperrors.IsUnauthenticated(err))
}

func TestSessionManager_Register_StagesRoleForResolver(t *testing.T) {
	f := newManagerFixture(t)

	id, err := f.manager.Register(context.Background(), RegisterInput{
		Email:       "host@example.com",
		Password:    "pw",
		DisplayName: "The Host",
		Role:        identity.RoleHost,
	})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleHost, id.Role)

	// Resolver consumed the staged role while synthesizing the row.
	_, ok, err := f.intents.TakePendingRole(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	row, err := f.profiles.GetByID(context.Background(), id.ID)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleHost, row.Role)
}

func TestSessionManager_Register_CorrectsTriggerDefaultRole(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	// The server-side trigger materialized the row before resolution read it,
	// so it carries the attendee default instead of the requested role.
	f.profiles.Seed(identity.ProfileRow{
		ID:          "mock-user-1",
		Email:       "host@example.com",
		DisplayName: "The Host",
		Role:        identity.RoleAttendee,
	})

	id, err := f.manager.Register(ctx, RegisterInput{
		Email:    "host@example.com",
		Password: "pw",
		Role:     identity.RoleHost,
	})
	require.NoError(t, err)
	assert.Equal(t, identity.RoleHost, id.Role)

	row, err := f.profiles.GetByID(ctx, "mock-user-1")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleHost, row.Role)

	// Registration concluded, so the staged role must be gone either way.
	_, ok, err := f.intents.TakePendingRole(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionManager_Register_Validation(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.Register(context.Background(), RegisterInput{Password: "pw"})
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "email", apperrors.GetField(err))

	_, err = f.manager.Register(context.Background(), RegisterInput{Email: "a@b.c"})
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "password", apperrors.GetField(err))
}

func TestSessionManager_SignInWithProvider_ScrubsFirst(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.short.Set(ctx, "sb-auth.verifier", "stale", 0))

	authURL, state, nonce, err := f.manager.SignInWithProvider(ctx, "google", "https://app/callback", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, authURL)
	assert.NotEmpty(t, state)
	assert.NotEmpty(t, nonce)

	v, err := f.short.Get(ctx, "sb-auth.verifier")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSessionManager_CompleteOAuth(t *testing.T) {
	f := newManagerFixture(t)
	f.provider.CurrentUser = &identity.UserRecord{ID: "mock-user-1", Email: "fed@example.com"}

	id, err := f.manager.CompleteOAuth(context.Background(), "authcode", "nonce")
	require.NoError(t, err)
	assert.Equal(t, "mock-user-1", id.ID)
	assert.Equal(t, identity.StatusAuthenticated, f.manager.Snapshot().Status)
}

func TestSessionManager_SignOut_Ordering(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Login(ctx, "user@example.com", "pw")
	require.NoError(t, err)
	require.NoError(t, f.durable.Set(ctx, "sb-auth.token", "live", 0))

	var statusAtSignOut identity.Status
	f.provider.SignOutFunc = func(context.Context, identity.SignOutScope) error {
		// Memory must already be cleared when the provider call happens.
		statusAtSignOut = f.manager.Snapshot().Status
		return nil
	}

	require.NoError(t, f.manager.SignOut(ctx))
	assert.Equal(t, identity.StatusUnauthenticated, statusAtSignOut)
	assert.Equal(t, []identity.SignOutScope{identity.SignOutGlobal}, f.provider.SignOutCalls)

	v, err := f.durable.Get(ctx, "sb-auth.token")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSessionManager_SignOut_GlobalFailureRetriesLocal(t *testing.T) {
	f := newManagerFixture(t)

	f.provider.SignOutFunc = func(_ context.Context, scope identity.SignOutScope) error {
		if scope == identity.SignOutGlobal {
			return apperrors.Internal("revocation endpoint down")
		}
		return nil
	}

	require.NoError(t, f.manager.SignOut(context.Background()))
	assert.Equal(t,
		[]identity.SignOutScope{identity.SignOutGlobal, identity.SignOutLocal},
		f.provider.SignOutCalls)
	assert.Equal(t, identity.StatusUnauthenticated, f.manager.Snapshot().Status)
}

func TestSessionManager_SignOutDuringResolutionDropsResult(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.profiles.GetByIDFunc = func(_ context.Context, id string) (*identity.ProfileRow, error) {
		once.Do(func() { close(entered) })
		<-release
		return &identity.ProfileRow{ID: id, DisplayName: "Late", Role: identity.RoleAttendee}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.manager.Login(ctx, "user@example.com", "pw")
	}()

	// Sign out while the login's profile read is still in flight.
	<-entered
	require.NoError(t, f.manager.SignOut(ctx))

	close(release)
	<-done

	// The stale resolution must not resurrect the signed-out session.
	snap := f.manager.Snapshot()
	assert.Equal(t, identity.StatusUnauthenticated, snap.Status)
	assert.Nil(t, snap.Identity)
}

func TestSessionManager_AwaitIdentity_ResolvesWhileLoading(t *testing.T) {
	f := newManagerFixture(t)

	// A session exists at the provider but the manager has not bootstrapped
	// yet. Await must settle on the identity instead of reporting no session.
	f.provider.CurrentSession = &identity.Session{
		UserID: "u7", Email: "u7@example.com", ExpiresAt: time.Now().Add(time.Hour),
	}
	f.provider.CurrentUser = &identity.UserRecord{ID: "u7", Email: "u7@example.com"}
	f.profiles.Seed(identity.ProfileRow{ID: "u7", DisplayName: "Waiting", Role: identity.RoleAttendee})

	id, err := f.manager.AwaitIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u7", id.ID)
	assert.Equal(t, "Waiting", id.DisplayName)
}

func TestSessionManager_ProviderSignedOutEvent(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	_, err := f.manager.Login(ctx, "user@example.com", "pw")
	require.NoError(t, err)

	f.provider.SetSession(nil, identity.EventSignedOut)
	waitForStatus(t, f.manager, identity.StatusUnauthenticated)
}

func TestSessionManager_ProviderSignedInEvent(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	f.provider.CurrentUser = &identity.UserRecord{ID: "u9", Email: "u9@example.com"}
	f.provider.SetSession(&identity.Session{
		UserID: "u9", Email: "u9@example.com", ExpiresAt: time.Now().Add(time.Hour),
	}, identity.EventSignedIn)

	waitForStatus(t, f.manager, identity.StatusAuthenticated)
	snap := f.manager.Snapshot()
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "u9", snap.Identity.ID)
}

func TestSessionManager_TokenRefreshDoesNotReresolve(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	id, err := f.manager.Login(ctx, "user@example.com", "pw")
	require.NoError(t, err)

	var getCalls int
	f.profiles.GetByIDFunc = func(context.Context, string) (*identity.ProfileRow, error) {
		getCalls++
		return nil, apperrors.NotFound("unexpected read")
	}

	f.provider.SetSession(&identity.Session{
		UserID: id.ID, ExpiresAt: time.Now().Add(2 * time.Hour),
	}, identity.EventTokenRefreshed)

	// Give any stray goroutine a chance to run before asserting.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, getCalls)
	assert.Equal(t, identity.StatusAuthenticated, f.manager.Snapshot().Status)
}

func TestSessionManager_SubscribersSeeTransitions(t *testing.T) {
	f := newManagerFixture(t)

	var statuses []identity.Status
	unsub := f.manager.Subscribe(func(snap identity.Snapshot) {
		statuses = append(statuses, snap.Status)
	})
	defer unsub()

	_, err := f.manager.Login(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)

	require.NotEmpty(t, statuses)
	assert.Equal(t, identity.StatusLoading, statuses[0])
	assert.Equal(t, identity.StatusAuthenticated, statuses[len(statuses)-1])
}

func TestSessionManager_UpdateIdentity(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	id, err := f.manager.Login(ctx, "user@example.com", "pw")
	require.NoError(t, err)

	name := "Renamed"
	complete := true
	updated, err := f.manager.UpdateIdentity(ctx, identity.ProfilePatch{
		DisplayName: &name, ProfileComplete: &complete,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.DisplayName)
	assert.True(t, updated.ProfileComplete)

	row, err := f.profiles.GetByID(ctx, id.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", row.DisplayName)

	snap := f.manager.Snapshot()
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "Renamed", snap.Identity.DisplayName)
}

func TestSessionManager_UpdateIdentity_RequiresSession(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	name := "Nobody"
	_, err := f.manager.UpdateIdentity(context.Background(), identity.ProfilePatch{DisplayName: &name})
	assert.ErrorIs(t, err, apperrors.ErrNoSession)
}

// waitForStatus polls the manager until it reaches the wanted status or the
// deadline passes. Provider events are handled on background goroutines.
func waitForStatus(t *testing.T, m *SessionManager, want identity.Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Snapshot().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("manager never reached status %q, stuck at %q", want, m.Snapshot().Status)
}
