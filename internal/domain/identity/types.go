package identity

// Package identity contains domain-level types for sessions and resolved
// identities. It is pure and free of framework/adapter concerns.

import "time"

// Role represents an application's authorization role.
// Keep string form for easy persistence and cookies.
// Valid values are defined as constants below.
type Role string

const (
	RoleHost     Role = "host"
	RoleAttendee Role = "attendee"
)

// ParseRole normalizes a raw role string, falling back to Attendee for
// anything unrecognized. The profile-store trigger may assign a default
// before the explicit role write lands, so unknown values are not an error.
func ParseRole(raw string) Role {
	if Role(raw) == RoleHost {
		return RoleHost
	}
	return RoleAttendee
}

// Session is the provider-issued proof of authentication. It is opaque to
// this subsystem: we never mutate it, only observe present/absent.
type Session struct {
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"access_token"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// UserRecord is the provider-side view of the authenticated user, including
// the raw metadata bag set at sign-up or by the OAuth provider.
type UserRecord struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// ResolvedIdentity is the application-level identity produced once a profile
// row is observed or the fallback is exhausted. Immutable value object;
// replaced wholesale, never mutated in place.
type ResolvedIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        Role   `json:"role"`
	// ProfileComplete reports whether the user finished onboarding.
	ProfileComplete bool `json:"profile_complete"`
	// Persisted is false when the profile row could not be inserted and the
	// identity was built best-effort from session metadata alone.
	Persisted bool `json:"persisted"`
}

// IsHost returns true if the identity carries the host role.
func (r ResolvedIdentity) IsHost() bool { return r.Role == RoleHost }

// ProfileRow is the durable application-level user record keyed by the
// provider's user id.
type ProfileRow struct {
	ID              string
	DisplayName     string
	Email           string
	AvatarURL       string
	Role            Role
	ProfileComplete bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Identity maps a profile row to a resolved identity.
func (p ProfileRow) Identity() ResolvedIdentity {
	return ResolvedIdentity{
		ID:              p.ID,
		DisplayName:     p.DisplayName,
		Email:           p.Email,
		AvatarURL:       p.AvatarURL,
		Role:            p.Role,
		ProfileComplete: p.ProfileComplete,
		Persisted:       true,
	}
}

// ProfilePatch carries partial updates for a profile row. Nil fields are
// left untouched.
type ProfilePatch struct {
	DisplayName     *string
	AvatarURL       *string
	Role            *Role
	ProfileComplete *bool
}

// Status describes the lifecycle state of the session manager.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
)

// Snapshot is the read-only view shared with the rest of the application.
type Snapshot struct {
	Identity *ResolvedIdentity
	Status   Status
}

// AuthEvent names a provider-pushed state transition.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "signed_in"
	EventSignedOut      AuthEvent = "signed_out"
	EventTokenRefreshed AuthEvent = "token_refreshed"
)

// SignOutScope selects how far a provider sign-out reaches.
type SignOutScope string

const (
	SignOutLocal  SignOutScope = "local"
	SignOutGlobal SignOutScope = "global"
)
