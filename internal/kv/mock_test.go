package kv

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Command-shape tests: these pin the exact Redis commands the store issues,
// which miniredis cannot distinguish.

func TestKeysUsesScanNotKeys(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)

	mock.ExpectScan(0, "clubs:*", 100).SetVal([]string{"clubs:1", "clubs:2"}, 0)

	keys := store.Keys(context.Background(), "clubs:*")
	assert.Equal(t, []string{"clubs:1", "clubs:2"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeysFollowsCursor(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)

	mock.ExpectScan(0, "slots:*", 100).SetVal([]string{"slots:1:10:2024-06-01"}, 7)
	mock.ExpectScan(7, "slots:*", 100).SetVal([]string{"slots:1:11:2024-06-01"}, 0)

	keys := store.Keys(context.Background(), "slots:*")
	assert.Len(t, keys, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCarriesTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)

	mock.ExpectSet("clubs:P1", []byte(`[]`), time.Hour).SetVal("OK")

	assert.True(t, store.Set(context.Background(), "clubs:P1", []byte(`[]`), time.Hour))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMSetPipelinesPerKeyTTLs(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)

	// Map iteration order is unspecified.
	mock.MatchExpectationsInOrder(false)
	mock.ExpectSet("slots:1:10:2024-06-01", []byte(`[]`), 5*time.Minute).SetVal("OK")
	mock.ExpectSet("slots:stale:1:10:2024-06-01", []byte(`[]`), 2*time.Hour).SetVal("OK")

	ok := store.MSet(context.Background(), map[string]Entry{
		"slots:1:10:2024-06-01":       {Value: []byte(`[]`), TTL: 5 * time.Minute},
		"slots:stale:1:10:2024-06-01": {Value: []byte(`[]`), TTL: 2 * time.Hour},
	})
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissIsNotAnError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)

	mock.ExpectGet("clubs:P1").RedisNil()

	_, ok := store.Get(context.Background(), "clubs:P1")
	assert.False(t, ok)

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Zero(t, stats.Errors)
	assert.True(t, stats.Connected)
}
