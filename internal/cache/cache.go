package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/kv"
)

// Entry types. The type names the payload shape and selects the fresh TTL.
const (
	TypeClubs        = "clubs"
	TypeCourts       = "courts"
	TypeSlots        = "slots"
	TypeAvailability = "availability"
)

// StaleTTL bounds how long the stale mirror survives. It always exceeds every
// fresh TTL so a stale entry can outlive its fresh counterpart.
const StaleTTL = 2 * time.Hour

var ttlByType = map[string]time.Duration{
	TypeClubs:        time.Hour,
	TypeCourts:       30 * time.Minute,
	TypeSlots:        5 * time.Minute,
	TypeAvailability: 3 * time.Minute,
}

const defaultTTL = 5 * time.Minute

// TTLFor returns the fresh-tier TTL for an entry type.
func TTLFor(typ string) time.Duration {
	if ttl, ok := ttlByType[typ]; ok {
		return ttl
	}
	return defaultTTL
}

// Key builds "<type>:<p1>:<p2>:…". Deterministic and injective for the
// type/params domains in use (params never contain ':').
func Key(typ string, params ...string) string {
	return strings.Join(append([]string{typ}, params...), ":")
}

// StaleKey builds the stale-tier mirror key "<type>:stale:<p1>:…".
func StaleKey(typ string, params ...string) string {
	return strings.Join(append([]string{typ, "stale"}, params...), ":")
}

// Cache is the two-tier (fresh + stale) cache over the KV store. It owns the
// key schema; collaborators mutate entries only through it.
type Cache struct {
	store *kv.Store
}

// New wraps the KV store.
func New(store *kv.Store) *Cache {
	return &Cache{store: store}
}

// GetWithFallback reads the fresh tier and, when absent and staleKey is
// non-empty, falls back to the stale tier. Absent on both tiers (or any KV
// degradation) yields (nil, false).
func (c *Cache) GetWithFallback(ctx context.Context, freshKey, staleKey string) ([]byte, bool) {
	if data, found := c.store.Get(ctx, freshKey); found {
		return data, false
	}
	if staleKey == "" {
		return nil, false
	}
	if data, found := c.store.Get(ctx, staleKey); found {
		log.Debug().Str("key", freshKey).Msg("cache: serving stale entry")
		return data, true
	}
	return nil, false
}

// SetWithTypeTTL writes data to the fresh tier with the type's TTL and, when
// staleKey is non-empty, mirrors the same payload to the stale tier with
// StaleTTL. Both writes go out in one pipeline.
func (c *Cache) SetWithTypeTTL(ctx context.Context, freshKey string, data []byte, typ string, staleKey string) bool {
	entries := map[string]kv.Entry{
		freshKey: {Value: data, TTL: TTLFor(typ)},
	}
	if staleKey != "" {
		entries[staleKey] = kv.Entry{Value: data, TTL: StaleTTL}
	}
	return c.store.MSet(ctx, entries)
}

// Invalidate deletes the given literal keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) bool {
	return c.store.Del(ctx, keys...)
}

// InvalidateByPattern deletes every key matching pattern, enumerating with a
// non-blocking scan. A literal key (no wildcard) skips the scan. Returns the
// number of keys deleted; a pattern with no matches is a no-op.
func (c *Cache) InvalidateByPattern(ctx context.Context, pattern string) int {
	if !strings.ContainsAny(pattern, "*?[") {
		if c.store.Del(ctx, pattern) {
			return 1
		}
		return 0
	}
	keys := c.store.Keys(ctx, pattern)
	if len(keys) == 0 {
		return 0
	}
	if !c.store.Del(ctx, keys...) {
		return 0
	}
	return len(keys)
}

// Reverse index from club to the place it was listed under, written alongside
// clubs entries so club-scoped events can invalidate precisely instead of
// wiping clubs:* globally.
const clubPlaceIndexTTL = StaleTTL

func clubPlaceKey(clubID int) string {
	return Key("clubToPlace", strconv.Itoa(clubID))
}

// SetClubPlace records that clubID was listed under placeID.
func (c *Cache) SetClubPlace(ctx context.Context, clubID int, placeID string) bool {
	return c.store.Set(ctx, clubPlaceKey(clubID), []byte(placeID), clubPlaceIndexTTL)
}

// ClubPlace returns the place a club was last listed under, if still indexed.
func (c *Cache) ClubPlace(ctx context.Context, clubID int) (string, bool) {
	data, found := c.store.Get(ctx, clubPlaceKey(clubID))
	if !found {
		return "", false
	}
	return string(data), true
}

// Stats exposes the underlying adapter counters.
func (c *Cache) Stats() kv.Stats {
	return c.store.Stats()
}
