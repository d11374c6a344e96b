package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhq/gather-ui-api/internal/testutil"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

func TestIntentScope_SetAndGet(t *testing.T) {
	client := setupTestRedis(t)
	scope := NewIntentScope(client)
	ctx := context.Background()

	err := scope.Set(ctx, "pending.eventCode", "482913", 0)
	require.NoError(t, err)

	got, err := scope.Get(ctx, "pending.eventCode")
	require.NoError(t, err)
	assert.Equal(t, "482913", got)
}

func TestIntentScope_GetMissingIsEmpty(t *testing.T) {
	client := setupTestRedis(t)
	scope := NewIntentScope(client)

	got, err := scope.Get(context.Background(), "pending.resumePurchasePath")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIntentScope_TTL(t *testing.T) {
	client := setupTestRedis(t)
	scope := NewIntentScope(client)
	ctx := context.Background()

	err := scope.Set(ctx, "pending.role", "host", 50*time.Millisecond)
	require.NoError(t, err)

	got, err := scope.Get(ctx, "pending.role")
	require.NoError(t, err)
	assert.Equal(t, "host", got)

	time.Sleep(100 * time.Millisecond)

	got, err = scope.Get(ctx, "pending.role")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIntentScope_Delete(t *testing.T) {
	client := setupTestRedis(t)
	scope := NewIntentScope(client)
	ctx := context.Background()

	require.NoError(t, scope.Set(ctx, "pending.eventCode", "482913", 0))
	require.NoError(t, scope.Delete(ctx, "pending.eventCode"))

	got, err := scope.Get(ctx, "pending.eventCode")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Deleting an absent key is not an error.
	assert.NoError(t, scope.Delete(ctx, "pending.eventCode"))
}

func TestIntentScope_ClearPrefix(t *testing.T) {
	client := setupTestRedis(t)
	scope := NewIntentScope(client)
	ctx := context.Background()

	require.NoError(t, scope.Set(ctx, "sb-auth.token", "tok", 0))
	require.NoError(t, scope.Set(ctx, "sb-auth.refresh", "ref", 0))
	require.NoError(t, scope.Set(ctx, "pending.eventCode", "482913", 0))

	require.NoError(t, scope.ClearPrefix(ctx, "sb-auth."))

	got, err := scope.Get(ctx, "sb-auth.token")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = scope.Get(ctx, "pending.eventCode")
	require.NoError(t, err)
	assert.Equal(t, "482913", got, "unrelated keys survive a prefix scrub")
}

func TestIntentScope_EmptyKeyRejected(t *testing.T) {
	client := setupTestRedis(t)
	scope := NewIntentScope(client)
	ctx := context.Background()

	_, err := scope.Get(ctx, "")
	assert.Error(t, err)
	assert.Error(t, scope.Set(ctx, "", "v", 0))
}
