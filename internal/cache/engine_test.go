package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
	"github.com/goobz22/goobs-cache/internal/cache/serverstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := Default()
	cfg.CacheSize = 3
	cfg.NonProduction = true
	cfg.PersistenceInterval = time.Hour
	cfg.BatchSize = 1 // flush synchronously on every Add, so A is observable immediately

	e, err := New(context.Background(), cfg, serverstore.NewMemStore(), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestEngine_New_RejectsNilStore(t *testing.T) {
	cfg := Default()
	cfg.NonProduction = true
	_, err := New(context.Background(), cfg, nil, false)
	assert.ErrorIs(t, err, cachecore.ErrInvalidServerStorage)
}

func TestEngine_New_RejectsInvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.CacheSize = 0
	_, err := New(context.Background(), cfg, serverstore.NewMemStore(), false)
	assert.ErrorIs(t, err, cachecore.ErrInvalidCacheSize)
}

// Scenario 1: round-trip small string.
func TestEngine_RoundTrip_SmallString(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "k", "s", cachecore.String("hello"), ModeTwoLayer, time.Now().Add(time.Hour)))

	res, err := e.Get(ctx, "k", "s", ModeTwoLayer)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, cachecore.String("hello"), res.Value)
	assert.Equal(t, int64(1), res.GetHitCount)
	assert.Equal(t, int64(1), res.SetHitCount)
}

// Scenario 2: compression trigger.
func TestEngine_CompressionTrigger(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	big := cachecore.String(strings.Repeat("a", 2000))

	require.NoError(t, e.Set(ctx, "big", "s", big, ModeTwoLayer, time.Now().Add(time.Hour)))

	res, err := e.Get(ctx, "big", "s", ModeTwoLayer)
	require.NoError(t, err)
	assert.Equal(t, big, res.Value)
}

// Scenario 3: eviction under capacity=N.
func TestEngine_EvictionUnderCapacity(t *testing.T) {
	e := newTestEngine(t) // CacheSize = 3
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		id := string(rune('0' + i))
		require.NoError(t, e.Set(ctx, "k"+id, "s", cachecore.String(strings.Repeat("a", 2000)), ModeClient, time.Now().Add(time.Hour)))
	}

	res, err := e.Get(ctx, "k0", "s", ModeClient)
	require.NoError(t, err)
	assert.False(t, res.Found, "the earliest-accessed key must be evicted once capacity is exceeded")

	res, err = e.Get(ctx, "k3", "s", ModeClient)
	require.NoError(t, err)
	assert.True(t, res.Found)
}

// Scenario 4: wrong-password rejection.
func TestEngine_WrongPassword_Rejection(t *testing.T) {
	ctx := context.Background()
	store := serverstore.NewMemStore()

	cfg1 := Default()
	cfg1.NonProduction = true
	cfg1.PersistenceInterval = time.Hour
	cfg1.BatchSize = 1
	cfg1.EncryptionPassword = "p1"
	e1, err := New(ctx, cfg1, store, false)
	require.NoError(t, err)
	defer e1.Close(ctx)

	require.NoError(t, e1.Set(ctx, "k", "s", cachecore.String("secret"), ModeTwoLayer, time.Now().Add(time.Hour)))

	cfg2 := cfg1
	cfg2.EncryptionPassword = "p2"
	e2, err := New(ctx, cfg2, store, false)
	require.NoError(t, err)
	defer e2.Close(ctx)

	_, err = e2.Get(ctx, "k", "s", ModeTwoLayer)
	assert.ErrorIs(t, err, cachecore.ErrDecryptionError)
}

// Scenario 5: subscription fan-out.
func TestEngine_SubscriptionFanOut(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var l1Results, l2Results []cachecore.CacheResult
	_, err := e.SubscribeToUpdates("k", "s", ModeTwoLayer, func(r cachecore.CacheResult) { l1Results = append(l1Results, r) })
	require.NoError(t, err)
	_, err = e.SubscribeToUpdates("k", "s", ModeTwoLayer, func(r cachecore.CacheResult) { l2Results = append(l2Results, r) })
	require.NoError(t, err)

	require.NoError(t, e.Set(ctx, "k", "s", cachecore.String("v"), ModeTwoLayer, time.Now().Add(time.Hour)))
	require.NoError(t, e.Remove(ctx, "k", "s", ModeTwoLayer))

	require.Len(t, l1Results, 2)
	require.Len(t, l2Results, 2)
	assert.True(t, l1Results[0].Found)
	assert.Equal(t, cachecore.String("v"), l1Results[0].Value)
	assert.False(t, l1Results[1].Found)
	assert.True(t, l2Results[0].Found)
	assert.False(t, l2Results[1].Found)
}

// Scenario 6: invalid mode.
func TestEngine_InvalidMode(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Set(ctx, "k", "s", cachecore.String("v"), Mode("invalid"), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.ErrorIs(t, err, cachecore.ErrInvalidCacheMode)
	assert.Contains(t, err.Error(), "invalid")
}

func TestEngine_InvalidMode_EmptyString(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Get(context.Background(), "k", "s", Mode(""))
	require.Error(t, err)
	assert.ErrorIs(t, err, cachecore.ErrInvalidCacheMode)
	assert.Contains(t, err.Error(), "<empty>")
}

func TestEngine_CookieMode_SetGetRemove_ReturnExternal(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Set(ctx, "k", "s", cachecore.String("v"), ModeCookie, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, cachecore.ErrCacheModeExternal)

	_, err = e.Get(ctx, "k", "s", ModeCookie)
	assert.ErrorIs(t, err, cachecore.ErrCacheModeExternal)

	err = e.Remove(ctx, "k", "s", ModeCookie)
	assert.ErrorIs(t, err, cachecore.ErrCacheModeExternal)
}

func TestEngine_CookieMode_Subscribe_Unsupported(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SubscribeToUpdates("k", "s", ModeCookie, func(cachecore.CacheResult) {})
	assert.ErrorIs(t, err, cachecore.ErrSubscriptionUnsupported)
	assert.ErrorIs(t, err, cachecore.ErrSubscriptionError)
}

func TestEngine_ServerMode_BypassesFastTier(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "k", "s", cachecore.String("v"), ModeServer, time.Now().Add(time.Hour)))

	res, err := e.Get(ctx, "k", "s", ModeClient)
	require.NoError(t, err)
	assert.False(t, res.Found, "server-mode writes must not populate the fast tier")

	res, err = e.Get(ctx, "k", "s", ModeServer)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, cachecore.String("v"), res.Value)
}

func TestEngine_ClientMode_NeverTouchesAuthoritativeTier(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "k", "s", cachecore.String("v"), ModeClient, time.Now().Add(time.Hour)))

	res, err := e.Get(ctx, "k", "s", ModeServer)
	require.NoError(t, err)
	assert.False(t, res.Found, "client-mode writes must not reach the authoritative tier")
}

func TestEngine_Clear_RemovesEverythingAndNotifies(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	notified := false
	_, err := e.SubscribeToUpdates("k", "s", ModeTwoLayer, func(cachecore.CacheResult) { notified = true })
	require.NoError(t, err)

	require.NoError(t, e.Set(ctx, "k", "s", cachecore.String("v"), ModeTwoLayer, time.Now().Add(time.Hour)))
	require.NoError(t, e.Clear(ctx))

	assert.True(t, notified)
	res, err := e.Get(ctx, "k", "s", ModeTwoLayer)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestEngine_InvalidIdentifier_Rejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Set(ctx, "../etc/passwd", "s", cachecore.String("v"), ModeTwoLayer, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, cachecore.ErrInvalidIdentifier)
}

func TestEngine_InvalidValueType_Rejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Set(ctx, "k", "s", cachecore.Value{Kind: "bogus"}, ModeTwoLayer, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, cachecore.ErrInvalidValueType)
}

func TestEngine_SetThenRemoveThenGet_IsMiss(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Set(ctx, "k", "s", cachecore.String("v"), ModeTwoLayer, time.Now().Add(time.Hour)))
	require.NoError(t, e.Remove(ctx, "k", "s", ModeTwoLayer))

	res, err := e.Get(ctx, "k", "s", ModeTwoLayer)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestEngine_Set_ZeroExpiration_AppliesCacheMaxAge(t *testing.T) {
	e := newTestEngine(t) // CacheMaxAge = 1h from Default()
	ctx := context.Background()

	before := time.Now()
	require.NoError(t, e.Set(ctx, "k", "s", cachecore.String("v"), ModeTwoLayer, time.Time{}))

	res, err := e.Get(ctx, "k", "s", ModeTwoLayer)
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.WithinDuration(t, before.Add(time.Hour), res.Expiration, time.Minute,
		"omitting the expiration must apply the configured default TTL")
}

func TestEngine_Set_PastExpiration_Rejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Set(ctx, "k", "s", cachecore.String("v"), ModeTwoLayer, time.Now().Add(-time.Minute))
	assert.ErrorIs(t, err, cachecore.ErrInvalidExpiration)

	err = e.Set(ctx, "k", "s", cachecore.String("v"), ModeServer, time.Now().Add(-time.Minute))
	assert.ErrorIs(t, err, cachecore.ErrInvalidExpiration)
}

func TestEngine_ForceReset_ClearsBackingStore(t *testing.T) {
	ctx := context.Background()
	store := serverstore.NewMemStore()

	cfg := Default()
	cfg.NonProduction = true
	cfg.PersistenceInterval = time.Hour
	cfg.BatchSize = 1

	e1, err := New(ctx, cfg, store, false)
	require.NoError(t, err)
	require.NoError(t, e1.Set(ctx, "k", "s", cachecore.String("v"), ModeTwoLayer, time.Now().Add(time.Hour)))
	require.NoError(t, e1.Close(ctx))
	require.Equal(t, 1, store.Len())

	cfg.ForceReset = true
	e2, err := New(ctx, cfg, store, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close(ctx) })

	assert.Equal(t, 0, store.Len(), "force-reset must clear persisted state at construction")

	res, err := e2.Get(ctx, "k", "s", ModeTwoLayer)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestEngine_Unsubscribe_StopsDelivery(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	calls := 0
	unsub, err := e.SubscribeToUpdates("k", "s", ModeTwoLayer, func(cachecore.CacheResult) { calls++ })
	require.NoError(t, err)

	require.NoError(t, e.Set(ctx, "k", "s", cachecore.String("v1"), ModeTwoLayer, time.Now().Add(time.Hour)))
	unsub()
	require.NoError(t, e.Set(ctx, "k", "s", cachecore.String("v2"), ModeTwoLayer, time.Now().Add(time.Hour)))

	assert.Equal(t, 1, calls)
}
