package ports

// Package ports defines interfaces (hexagonal ports) for the session
// bootstrap subsystem. Implementations live in internal/adapters;
// orchestration in internal/service.

import (
	"context"
	"net/url"
	"time"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
)

// IdentityProvider is the external collaborator that issues and validates
// credentials and session tokens. All methods are network-backed and may
// fail with transport or provider-rejection errors.
//
// Implementations must return internal/errors.ErrNoSession when no session
// exists, so callers can tell a terminal negative from a transient failure.
type IdentityProvider interface {
	// Session returns the current session, if any.
	Session(ctx context.Context) (*identity.Session, error)

	// User returns the provider-side user record for the current session.
	User(ctx context.Context) (*identity.UserRecord, error)

	// SignInWithPassword authenticates with email/password credentials.
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)

	// SignUp registers a new user. Metadata is forwarded to the provider and
	// surfaces later in UserRecord.Metadata.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*identity.Session, error)

	// OAuthURL builds the federated sign-in URL along with the opaque state
	// and nonce the caller must verify on return. Query parameters are
	// mirrored back verbatim on the redirect return.
	OAuthURL(ctx context.Context, provider, redirectURL string, query url.Values) (authURL, state, nonce string, err error)

	// ExchangeCode completes a federated redirect by exchanging the
	// authorization code for a session.
	ExchangeCode(ctx context.Context, code, nonce string) (*identity.Session, error)

	// SignOut revokes the session at the given scope.
	SignOut(ctx context.Context, scope identity.SignOutScope) error

	// OnAuthStateChange registers a callback for provider-pushed transitions.
	// The provider forbids synchronous provider calls from inside the
	// callback; subscribers must defer such work.
	OnAuthStateChange(fn func(event identity.AuthEvent, sess *identity.Session)) (unsubscribe func())
}

// ProfileStore persists application-level profile rows keyed by the
// provider's user id. Rows are created by a server-side trigger with unknown
// delay, so GetByID absence is an expected state, not an error.
type ProfileStore interface {
	// GetByID returns the profile row, or a not-found error when the trigger
	// has not materialized it yet.
	GetByID(ctx context.Context, id string) (*identity.ProfileRow, error)

	// Insert creates a profile row. Conflicts map to a conflict error.
	Insert(ctx context.Context, row identity.ProfileRow) error

	// Update applies a partial patch to an existing row.
	Update(ctx context.Context, id string, patch identity.ProfilePatch) error
}

// IntentScope is one storage scope for pending-intent values. Two
// implementations exist: a short-lived scope cleared when the browsing
// context closes, and a durable scope that survives it. Keys are
// subsystem-prefixed strings; values are strings.
type IntentScope interface {
	// Get returns the value for key, or "" when absent.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ClearPrefix removes every key under the given prefix. Used to scrub
	// provider auth artifacts on sign-out and before a fresh login.
	ClearPrefix(ctx context.Context, prefix string) error
}

// MetadataMapper extracts profile fields from a provider metadata bag when
// synthesizing a row for a first-time OAuth user.
type MetadataMapper interface {
	DisplayName(metadata map[string]any) string
	AvatarURL(metadata map[string]any) string
	Role(metadata map[string]any) (identity.Role, bool)
}

// EventJoiner replays a join-event intent after identity resolution. The
// semantic validity of the code is its concern, not this subsystem's.
type EventJoiner interface {
	Join(ctx context.Context, userID, code string) error
}
