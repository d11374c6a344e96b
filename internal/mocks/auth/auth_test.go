package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
)

func TestMockIdentityProvider_Defaults(t *testing.T) {
	p := NewMockIdentityProvider()
	ctx := context.Background()

	_, err := p.Session(ctx)
	assert.True(t, apperrors.IsUnauthenticated(err))

	sess, err := p.SignInWithPassword(ctx, "user@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", sess.Email)

	got, err := p.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.UserID, got.UserID)
}

func TestMockIdentityProvider_SubscribersNotified(t *testing.T) {
	p := NewSignedInProvider("u1", "u1@example.com")

	var events []identity.AuthEvent
	unsub := p.OnAuthStateChange(func(e identity.AuthEvent, _ *identity.Session) {
		events = append(events, e)
	})

	require.NoError(t, p.SignOut(context.Background(), identity.SignOutLocal))
	assert.Equal(t, []identity.AuthEvent{identity.EventSignedOut}, events)
	assert.Equal(t, []identity.SignOutScope{identity.SignOutLocal}, p.SignOutCalls)

	unsub()
	p.SetSession(nil, identity.EventSignedOut)
	assert.Len(t, events, 1)
}

func TestMemoryProfileStore_RoundTrip(t *testing.T) {
	s := NewMemoryProfileStore()
	ctx := context.Background()

	_, err := s.GetByID(ctx, "u1")
	assert.True(t, apperrors.IsNotFound(err))

	row := identity.ProfileRow{ID: "u1", Email: "u1@example.com", Role: identity.RoleAttendee}
	require.NoError(t, s.Insert(ctx, row))
	assert.True(t, apperrors.IsConflict(s.Insert(ctx, row)))

	host := identity.RoleHost
	require.NoError(t, s.Update(ctx, "u1", identity.ProfilePatch{Role: &host}))

	got, err := s.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleHost, got.Role)
}
