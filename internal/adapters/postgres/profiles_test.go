package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	apperrors "github.com/gatherhq/gather-ui-api/internal/errors"
	"github.com/gatherhq/gather-ui-api/internal/testutil"
)

type fixedTime struct{ t time.Time }

func (f fixedTime) Now() time.Time { return f.t }

func TestProfileRepo_InsertAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewProfileRepo(db)
	ctx := context.Background()

	row := identity.ProfileRow{
		ID:          "test-user-1",
		DisplayName: "Ada Lovelace",
		Email:       "ada@example.com",
		Role:        identity.RoleHost,
	}
	require.NoError(t, repo.Insert(ctx, row))

	got, err := repo.GetByID(ctx, "test-user-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", got.DisplayName)
	assert.Equal(t, identity.RoleHost, got.Role)
	assert.False(t, got.ProfileComplete)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestProfileRepo_GetMissingIsNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewProfileRepo(db)

	_, err := repo.GetByID(context.Background(), "test-user-missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestProfileRepo_InsertDuplicateIsConflict(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewProfileRepo(db)
	ctx := context.Background()

	row := identity.ProfileRow{ID: "test-user-dup", Role: identity.RoleAttendee}
	require.NoError(t, repo.Insert(ctx, row))

	err := repo.Insert(ctx, row)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestProfileRepo_UpdatePatchesOnlyGivenFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	repo := NewProfileRepoWithTimeProvider(db, fixedTime{now})
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, identity.ProfileRow{
		ID:          "test-user-2",
		DisplayName: "Before",
		Role:        identity.RoleAttendee,
	}))

	role := identity.RoleHost
	complete := true
	require.NoError(t, repo.Update(ctx, "test-user-2", identity.ProfilePatch{
		Role:            &role,
		ProfileComplete: &complete,
	}))

	got, err := repo.GetByID(ctx, "test-user-2")
	require.NoError(t, err)
	assert.Equal(t, "Before", got.DisplayName, "unpatched field untouched")
	assert.Equal(t, identity.RoleHost, got.Role)
	assert.True(t, got.ProfileComplete)
}

func TestProfileRepo_UpdateMissingIsNotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewProfileRepo(db)

	name := "Nobody"
	err := repo.Update(context.Background(), "test-user-missing", identity.ProfilePatch{DisplayName: &name})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestProfileRepo_EmptyPatchIsNoop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewProfileRepo(db)

	assert.NoError(t, repo.Update(context.Background(), "test-user-any", identity.ProfilePatch{}))
}
