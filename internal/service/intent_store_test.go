package service

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherhq/gather-ui-api/internal/adapters/memscope"
	"github.com/gatherhq/gather-ui-api/internal/domain/identity"
	"github.com/gatherhq/gather-ui-api/internal/domain/intent"
)

func newTestIntentStore(t *testing.T, now func() time.Time) (*IntentStore, *memscope.Store, *memscope.Store) {
	t.Helper()

	short := memscope.NewWithClock(now)
	durable := memscope.NewWithClock(now)

	store, err := NewIntentStore(IntentStoreOptions{
		ShortLived: short,
		Durable:    durable,
		Now:        now,
	})
	require.NoError(t, err)
	return store, short, durable
}

func TestNewIntentStore_RequiresScopes(t *testing.T) {
	_, err := NewIntentStore(IntentStoreOptions{Durable: memscope.New()})
	assert.Error(t, err)

	_, err = NewIntentStore(IntentStoreOptions{ShortLived: memscope.New()})
	assert.Error(t, err)
}

func TestIntentStore_StageJoinEvent_WritesAllLocations(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, short, durable := newTestIntentStore(t, func() time.Time { return base })
	ctx := context.Background()

	require.NoError(t, store.StageJoinEvent(ctx, "482913"))

	code, err := short.Get(ctx, KeyEventCode)
	require.NoError(t, err)
	assert.Equal(t, "482913", code)

	code, err = durable.Get(ctx, KeyEventCode)
	require.NoError(t, err)
	assert.Equal(t, "482913", code)

	raw, err := durable.Get(ctx, KeyEventPayload)
	require.NoError(t, err)
	payload, err := intent.DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, "482913", payload.Code)
	assert.Equal(t, base.UnixMilli(), payload.Timestamp)
}

func TestIntentStore_StageJoinEvent_RejectsInvalidCode(t *testing.T) {
	store, _, _ := newTestIntentStore(t, time.Now)

	assert.Error(t, store.StageJoinEvent(context.Background(), "12345"))
	assert.Error(t, store.StageJoinEvent(context.Background(), "abc123"))
	assert.Error(t, store.StageJoinEvent(context.Background(), ""))
}

func TestIntentStore_Consume_PrefersShortLived(t *testing.T) {
	store, short, durable := newTestIntentStore(t, time.Now)
	ctx := context.Background()

	require.NoError(t, short.Set(ctx, KeyEventCode, "111111", 0))
	require.NoError(t, durable.Set(ctx, KeyEventCode, "222222", 0))

	got, err := store.Consume(ctx, url.Values{QueryParamEventCode: {"333333"}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "111111", got.Code)
	assert.Equal(t, intent.SourceShortLived, got.Source)
}

func TestIntentStore_Consume_FallsBackToDurable(t *testing.T) {
	store, _, durable := newTestIntentStore(t, time.Now)
	ctx := context.Background()

	require.NoError(t, durable.Set(ctx, KeyEventCode, "222222", 0))

	got, err := store.Consume(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "222222", got.Code)
	assert.Equal(t, intent.SourceDurable, got.Source)
}

func TestIntentStore_Consume_PayloadWithinTTL(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store, _, durable := newTestIntentStore(t, func() time.Time { return now })
	ctx := context.Background()

	payload, err := intent.EncodePayload("654321", base)
	require.NoError(t, err)
	require.NoError(t, durable.Set(ctx, KeyEventPayload, payload, 0))

	now = base.Add(5 * time.Minute)
	got, err := store.Consume(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "654321", got.Code)
	assert.Equal(t, intent.SourcePayload, got.Source)
}

func TestIntentStore_Consume_StalePayloadDiscarded(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store, _, durable := newTestIntentStore(t, func() time.Time { return now })
	ctx := context.Background()

	payload, err := intent.EncodePayload("654321", base)
	require.NoError(t, err)
	require.NoError(t, durable.Set(ctx, KeyEventPayload, payload, 0))

	now = base.Add(intent.DefaultTTL + time.Second)
	got, err := store.Consume(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Stale payload is still erased.
	raw, err := durable.Get(ctx, KeyEventPayload)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestIntentStore_Consume_MalformedPayloadFallsThroughToQuery(t *testing.T) {
	store, _, durable := newTestIntentStore(t, time.Now)
	ctx := context.Background()

	require.NoError(t, durable.Set(ctx, KeyEventPayload, "{not json", 0))

	got, err := store.Consume(ctx, url.Values{QueryParamEventCode: {"987654"}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "987654", got.Code)
	assert.Equal(t, intent.SourceQuery, got.Source)
}

func TestIntentStore_Consume_NothingPending(t *testing.T) {
	store, _, _ := newTestIntentStore(t, time.Now)

	got, err := store.Consume(context.Background(), url.Values{})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIntentStore_Consume_ErasesEverything(t *testing.T) {
	store, short, durable := newTestIntentStore(t, time.Now)
	ctx := context.Background()

	require.NoError(t, store.StageJoinEvent(ctx, "482913"))

	got, err := store.Consume(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Second consume finds nothing in any location.
	got, err = store.Consume(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, key := range []string{KeyEventCode, KeyEventPayload} {
		v, err := durable.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, v, key)
	}
	v, err := short.Get(ctx, KeyEventCode)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestIntentStore_PendingRoleRoundTrip(t *testing.T) {
	store, _, _ := newTestIntentStore(t, time.Now)
	ctx := context.Background()

	role, ok, err := store.TakePendingRole(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, role)

	require.NoError(t, store.SetPendingRole(ctx, identity.RoleHost))

	role, ok, err = store.TakePendingRole(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, identity.RoleHost, role)

	// Take clears the slot.
	_, ok, err = store.TakePendingRole(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIntentStore_ResumePurchaseRoundTrip(t *testing.T) {
	store, _, _ := newTestIntentStore(t, time.Now)
	ctx := context.Background()

	path, err := store.TakeResumePurchase(ctx)
	require.NoError(t, err)
	assert.Empty(t, path)

	require.NoError(t, store.StageResumePurchase(ctx, "/checkout/basket"))

	path, err = store.TakeResumePurchase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/checkout/basket", path)

	path, err = store.TakeResumePurchase(ctx)
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestIntentStore_ScrubAuthArtifacts(t *testing.T) {
	store, short, durable := newTestIntentStore(t, time.Now)
	ctx := context.Background()

	require.NoError(t, short.Set(ctx, "sb-auth.token", "abc", 0))
	require.NoError(t, durable.Set(ctx, "sb-auth.refresh", "def", 0))
	require.NoError(t, durable.Set(ctx, KeyRole, "host", 0))
	require.NoError(t, durable.Set(ctx, KeyEventCode, "482913", 0))

	require.NoError(t, store.ScrubAuthArtifacts(ctx, "sb-auth."))

	v, err := short.Get(ctx, "sb-auth.token")
	require.NoError(t, err)
	assert.Empty(t, v)

	v, err = durable.Get(ctx, "sb-auth.refresh")
	require.NoError(t, err)
	assert.Empty(t, v)

	v, err = durable.Get(ctx, KeyRole)
	require.NoError(t, err)
	assert.Empty(t, v)

	// Pending event intents survive the scrub.
	v, err = durable.Get(ctx, KeyEventCode)
	require.NoError(t, err)
	assert.Equal(t, "482913", v)
}
