package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/kv"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })
	return New(store), mr
}

func TestKeySchema(t *testing.T) {
	assert.Equal(t, "clubs:P1", Key(TypeClubs, "P1"))
	assert.Equal(t, "clubs:stale:P1", StaleKey(TypeClubs, "P1"))
	assert.Equal(t, "slots:1:10:2024-06-01", Key(TypeSlots, "1", "10", "2024-06-01"))
	assert.Equal(t, "slots:stale:1:10:2024-06-01", StaleKey(TypeSlots, "1", "10", "2024-06-01"))
}

func TestTTLTable(t *testing.T) {
	assert.Equal(t, time.Hour, TTLFor(TypeClubs))
	assert.Equal(t, 30*time.Minute, TTLFor(TypeCourts))
	assert.Equal(t, 5*time.Minute, TTLFor(TypeSlots))
	assert.Equal(t, 3*time.Minute, TTLFor(TypeAvailability))
	assert.Equal(t, 5*time.Minute, TTLFor("unknown"))

	for typ := range map[string]struct{}{TypeClubs: {}, TypeCourts: {}, TypeSlots: {}, TypeAvailability: {}} {
		assert.Greater(t, StaleTTL, TTLFor(typ), "stale TTL must exceed fresh TTL for %s", typ)
	}
}

func TestSetWritesBothTiers(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	fresh := Key(TypeCourts, "7")
	stale := StaleKey(TypeCourts, "7")
	require.True(t, c.SetWithTypeTTL(ctx, fresh, []byte(`[{"id":42}]`), TypeCourts, stale))

	assert.Equal(t, 30*time.Minute, mr.TTL(fresh))
	assert.Equal(t, StaleTTL, mr.TTL(stale))

	data, isStale := c.GetWithFallback(ctx, fresh, stale)
	assert.False(t, isStale)
	assert.Equal(t, `[{"id":42}]`, string(data))
}

func TestGetFallsBackToStale(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	fresh := Key(TypeSlots, "1", "10", "2024-06-01")
	stale := StaleKey(TypeSlots, "1", "10", "2024-06-01")
	require.True(t, c.SetWithTypeTTL(ctx, fresh, []byte(`[]`), TypeSlots, stale))

	// Fresh expires; the stale mirror outlives it.
	mr.FastForward(TTLFor(TypeSlots) + time.Second)

	data, isStale := c.GetWithFallback(ctx, fresh, stale)
	assert.True(t, isStale)
	assert.Equal(t, `[]`, string(data))
}

func TestGetAbsentBothTiers(t *testing.T) {
	c, _ := newTestCache(t)

	data, isStale := c.GetWithFallback(context.Background(), "clubs:P9", "clubs:stale:P9")
	assert.Nil(t, data)
	assert.False(t, isStale)
}

func TestGetWithoutStaleKey(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	fresh := Key(TypeClubs, "P1")
	require.True(t, c.SetWithTypeTTL(ctx, fresh, []byte(`[]`), TypeClubs, StaleKey(TypeClubs, "P1")))
	mr.FastForward(TTLFor(TypeClubs) + time.Second)

	// No stale key supplied: the fallback tier is not consulted.
	data, isStale := c.GetWithFallback(ctx, fresh, "")
	assert.Nil(t, data)
	assert.False(t, isStale)
}

func TestInvalidateByPattern(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.SetWithTypeTTL(ctx, Key(TypeClubs, "P1"), []byte("x"), TypeClubs, StaleKey(TypeClubs, "P1"))
	c.SetWithTypeTTL(ctx, Key(TypeClubs, "P2"), []byte("x"), TypeClubs, StaleKey(TypeClubs, "P2"))
	c.SetWithTypeTTL(ctx, Key(TypeCourts, "1"), []byte("x"), TypeCourts, "")

	deleted := c.InvalidateByPattern(ctx, "clubs:*")
	assert.Equal(t, 4, deleted)

	data, _ := c.GetWithFallback(ctx, Key(TypeClubs, "P1"), StaleKey(TypeClubs, "P1"))
	assert.Nil(t, data)

	// Unrelated entries survive.
	data, _ = c.GetWithFallback(ctx, Key(TypeCourts, "1"), "")
	assert.NotNil(t, data)

	// No matches is a no-op.
	assert.Equal(t, 0, c.InvalidateByPattern(ctx, "slots:*"))
}

func TestInvalidateLiteralKey(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	fresh := Key(TypeSlots, "7", "42", "2024-06-02")
	stale := StaleKey(TypeSlots, "7", "42", "2024-06-02")
	c.SetWithTypeTTL(ctx, fresh, []byte("[]"), TypeSlots, stale)

	c.InvalidateByPattern(ctx, fresh)

	// The fresh entry is gone, the stale mirror intentionally remains.
	data, isStale := c.GetWithFallback(ctx, fresh, stale)
	assert.True(t, isStale)
	assert.NotNil(t, data)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.SetWithTypeTTL(ctx, Key(TypeCourts, "7"), []byte("x"), TypeCourts, StaleKey(TypeCourts, "7"))

	c.InvalidateByPattern(ctx, "courts:7")
	c.InvalidateByPattern(ctx, "courts:stale:7")
	first, _ := c.GetWithFallback(ctx, Key(TypeCourts, "7"), StaleKey(TypeCourts, "7"))

	c.InvalidateByPattern(ctx, "courts:7")
	c.InvalidateByPattern(ctx, "courts:stale:7")
	second, _ := c.GetWithFallback(ctx, Key(TypeCourts, "7"), StaleKey(TypeCourts, "7"))

	assert.Equal(t, first, second)
	assert.Nil(t, second)
}

func TestClubPlaceIndex(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, found := c.ClubPlace(ctx, 7)
	assert.False(t, found)

	require.True(t, c.SetClubPlace(ctx, 7, "P1"))

	place, found := c.ClubPlace(ctx, 7)
	require.True(t, found)
	assert.Equal(t, "P1", place)
}
