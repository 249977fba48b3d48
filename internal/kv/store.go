package kv

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Config holds Redis connection settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Entry is a value with its TTL, used for batched writes.
type Entry struct {
	Value []byte
	TTL   time.Duration
}

// Stats is a point-in-time snapshot of adapter counters.
type Stats struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Errors     int64   `json:"errors"`
	Operations int64   `json:"operations"`
	HitRate    float64 `json:"hitRate"`
	Connected  bool    `json:"connected"`
}

// Store is a thin transport over Redis. Every operation is total: transport
// errors degrade to absent/false and are counted, never returned. Callers
// that need to distinguish a degraded store consult Healthy.
type Store struct {
	client redis.UniversalClient

	hits       atomic.Int64
	misses     atomic.Int64
	errors     atomic.Int64
	operations atomic.Int64
	connected  atomic.Bool
}

// New dials Redis with the given config. The connection is lazy; liveness is
// tracked per-operation and by the background probe (see Probe).
func New(cfg Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return NewWithClient(client)
}

// NewWithClient wraps an existing client. Used by tests and by callers that
// manage their own client options.
func NewWithClient(client redis.UniversalClient) *Store {
	s := &Store{client: client}
	s.connected.Store(true)
	return s
}

// Get returns the value at key, or absent on miss or transport error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	s.operations.Add(1)
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.misses.Add(1)
		return nil, false
	}
	if err != nil {
		s.fail("get", err)
		return nil, false
	}
	s.ok()
	s.hits.Add(1)
	return val, true
}

// Set stores value at key with the given TTL. Returns false on transport error.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	s.operations.Add(1)
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.fail("set", err)
		return false
	}
	s.ok()
	return true
}

// MGet returns one value per key, preserving order; absent keys and transport
// errors yield nil entries.
func (s *Store) MGet(ctx context.Context, keys ...string) [][]byte {
	s.operations.Add(1)
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.fail("mget", err)
		s.misses.Add(int64(len(keys)))
		return out
	}
	s.ok()
	for i, v := range vals {
		if str, isStr := v.(string); isStr {
			out[i] = []byte(str)
			s.hits.Add(1)
		} else {
			s.misses.Add(1)
		}
	}
	return out
}

// MSet writes every entry with its own TTL in a single pipeline round trip.
func (s *Store) MSet(ctx context.Context, entries map[string]Entry) bool {
	s.operations.Add(1)
	if len(entries) == 0 {
		return true
	}
	pipe := s.client.Pipeline()
	for key, e := range entries {
		pipe.Set(ctx, key, e.Value, e.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.fail("mset", err)
		return false
	}
	s.ok()
	return true
}

// Del removes the given keys. A missing key is not an error.
func (s *Store) Del(ctx context.Context, keys ...string) bool {
	if len(keys) == 0 {
		return true
	}
	s.operations.Add(1)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.fail("del", err)
		return false
	}
	s.ok()
	return true
}

// Keys enumerates keys matching pattern with a non-blocking SCAN. A transport
// error terminates the scan and returns what was collected so far.
func (s *Store) Keys(ctx context.Context, pattern string) []string {
	s.operations.Add(1)
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.fail("scan", err)
		return keys
	}
	s.ok()
	return keys
}

// Flush clears the current database.
func (s *Store) Flush(ctx context.Context) bool {
	s.operations.Add(1)
	if err := s.client.FlushDB(ctx).Err(); err != nil {
		s.fail("flush", err)
		return false
	}
	s.ok()
	return true
}

// Healthy reports the last observed liveness.
func (s *Store) Healthy() bool {
	return s.connected.Load()
}

// Stats returns a snapshot of the adapter counters.
func (s *Store) Stats() Stats {
	hits := s.hits.Load()
	misses := s.misses.Load()
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	return Stats{
		Hits:       hits,
		Misses:     misses,
		Errors:     s.errors.Load(),
		Operations: s.operations.Load(),
		HitRate:    hitRate,
		Connected:  s.connected.Load(),
	}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

const (
	probeInterval = 15 * time.Second
	probeCoolOff  = 30 * time.Second
	probeAttempts = 5
)

// Probe runs the liveness loop until ctx is cancelled. While healthy it pings
// at probeInterval; on failure it retries with exponential backoff (1 s
// initial, doubling, probeAttempts tries) and then cools off before the next
// round, so a dead backend costs a bounded number of dials.
func (s *Store) Probe(ctx context.Context) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		if err := s.ping(ctx); err != nil {
			s.connected.Store(false)
			if err := s.reconnect(ctx); err != nil {
				log.Warn().Err(err).Msg("kv: reconnect attempts exhausted, cooling off")
				select {
				case <-time.After(probeCoolOff):
				case <-ctx.Done():
					return
				}
				continue
			}
		}
		s.connected.Store(true)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(pingCtx).Err()
}

func (s *Store) reconnect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxInterval = 16 * time.Second
	policy.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		return s.ping(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, probeAttempts), ctx))
}

func (s *Store) fail(op string, err error) {
	s.errors.Add(1)
	s.connected.Store(false)
	log.Debug().Err(err).Str("op", op).Msg("kv: operation degraded to absent")
}

func (s *Store) ok() {
	s.connected.Store(true)
}
