package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/cache"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/domain"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/kv"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/circuit"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/coalesce"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/ratelimit"
)

// ErrNoCachedData is returned when the fallback path finds neither a fresh
// nor a stale entry.
var ErrNoCachedData = errors.New("no cached data available")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.Code, e.URL)
}

// ClientFault reports whether the status is attributable to the request
// (plain 4xx). Such responses do not count toward opening the breaker.
func (e *StatusError) ClientFault() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}

// Config holds upstream connection settings.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Metrics is the composite status snapshot for the health surface.
type Metrics struct {
	Breaker   circuit.Status   `json:"breaker"`
	KV        kv.Stats         `json:"kv"`
	RateLimit ratelimit.Status `json:"rateLimit"`
}

// Client exposes the typed upstream operations. Every operation follows the
// same path: breaker(coalesced fetch with limiter and cache write, fallback
// to the two-tier cache).
type Client struct {
	base    string
	http    *http.Client
	cache   *cache.Cache
	limiter *ratelimit.FixedWindow
	breaker *circuit.Breaker
	group   coalesce.Group

	prefetch chan []domain.Club
}

// New builds a client over the shared cache, limiter and breaker. Prefetch
// jobs queue onto a small buffer drained by the worker started with
// StartPrefetchWorker; when the worker is not running (or the buffer is
// full) jobs are dropped, never blocking the query path.
func New(cfg Config, c *cache.Cache, limiter *ratelimit.FixedWindow, breaker *circuit.Breaker) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:     cfg.BaseURL,
		http:     &http.Client{Timeout: timeout},
		cache:    c,
		limiter:  limiter,
		breaker:  breaker,
		prefetch: make(chan []domain.Club, 16),
	}
}

// GetClubs lists the clubs for a place. A fresh upstream response also
// populates the club→place index and schedules a background courts prefetch.
func (c *Client) GetClubs(ctx context.Context, placeID string) ([]domain.Club, error) {
	freshKey := cache.Key(cache.TypeClubs, placeID)
	staleKey := cache.StaleKey(cache.TypeClubs, placeID)
	u := fmt.Sprintf("%s/clubs?placeId=%s", c.base, url.QueryEscape(placeID))

	data, err := c.fetch(ctx, cache.TypeClubs, freshKey, staleKey, u, func(ctx context.Context, body []byte) {
		var clubs []domain.Club
		if err := json.Unmarshal(body, &clubs); err != nil {
			return
		}
		for _, club := range clubs {
			c.cache.SetClubPlace(ctx, club.ID, placeID)
		}
		select {
		case c.prefetch <- clubs:
		default:
			log.Debug().Str("placeId", placeID).Msg("upstream: prefetch queue full, skipping")
		}
	})
	if err != nil {
		return nil, err
	}
	return decodePayload[[]domain.Club](c, ctx, data, freshKey, staleKey)
}

// GetCourts lists the courts of a club.
func (c *Client) GetCourts(ctx context.Context, clubID int) ([]domain.Court, error) {
	id := strconv.Itoa(clubID)
	freshKey := cache.Key(cache.TypeCourts, id)
	staleKey := cache.StaleKey(cache.TypeCourts, id)
	u := fmt.Sprintf("%s/clubs/%d/courts", c.base, clubID)

	data, err := c.fetch(ctx, cache.TypeCourts, freshKey, staleKey, u, nil)
	if err != nil {
		return nil, err
	}
	courts, err := decodePayload[[]domain.Court](c, ctx, data, freshKey, staleKey)
	if err != nil {
		return nil, err
	}
	// Courts are keyed by (clubId, id); the upstream omits clubId in this
	// listing, so pin it to the club they were fetched under.
	for i := range courts {
		courts[i].ClubID = clubID
	}
	return courts, nil
}

// GetAvailableSlots lists the open slots of a court on a date (YYYY-MM-DD).
func (c *Client) GetAvailableSlots(ctx context.Context, clubID, courtID int, date string) ([]domain.Slot, error) {
	club, court := strconv.Itoa(clubID), strconv.Itoa(courtID)
	freshKey := cache.Key(cache.TypeSlots, club, court, date)
	staleKey := cache.StaleKey(cache.TypeSlots, club, court, date)
	u := fmt.Sprintf("%s/clubs/%d/courts/%d/slots?date=%s", c.base, clubID, courtID, url.QueryEscape(date))

	data, err := c.fetch(ctx, cache.TypeSlots, freshKey, staleKey, u, nil)
	if err != nil {
		return nil, err
	}
	return decodePayload[[]domain.Slot](c, ctx, data, freshKey, staleKey)
}

// fetch is the shared operation path: the breaker guards a coalesced fetch
// (fresh-tier read, limiter, HTTP GET, tiered write) and diverts to the
// two-tier cache when the primary is suppressed or fails.
func (c *Client) fetch(ctx context.Context, typ, freshKey, staleKey, url string, onFresh func(context.Context, []byte)) ([]byte, error) {
	primary := func(ctx context.Context) (any, error) {
		v, _, err := c.group.Do(ctx, freshKey, func() (any, error) {
			// The shared fetch must settle for every coalesced waiter even
			// when the caller that started it goes away.
			fctx := context.WithoutCancel(ctx)

			if data, isStale := c.cache.GetWithFallback(fctx, freshKey, ""); data != nil && !isStale {
				return data, nil
			}
			if err := c.limiter.Acquire(fctx); err != nil {
				return nil, err
			}
			body, err := c.get(fctx, url)
			if err != nil {
				return nil, err
			}
			c.cache.SetWithTypeTTL(fctx, freshKey, body, typ, staleKey)
			if onFresh != nil {
				onFresh(fctx, body)
			}
			return body, nil
		})
		return v, err
	}

	fallback := func(ctx context.Context) (any, error) {
		if data, isStale := c.cache.GetWithFallback(ctx, freshKey, staleKey); data != nil {
			if isStale {
				log.Info().Str("key", freshKey).Msg("upstream: degraded, serving stale data")
			}
			return data, nil
		}
		return nil, ErrNoCachedData
	}

	v, err := c.breaker.Execute(ctx, primary, fallback)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return body, nil
}

// decodePayload unmarshals a cached or fetched payload. A corrupt payload is
// a miss: the offending entries are discarded and the caller sees
// ErrNoCachedData.
func decodePayload[T any](c *Client, ctx context.Context, data []byte, keys ...string) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		log.Warn().Err(err).Str("key", keys[0]).Msg("upstream: discarding corrupt cached payload")
		c.cache.Invalidate(ctx, keys...)
		return out, fmt.Errorf("corrupt payload for %s: %w", keys[0], ErrNoCachedData)
	}
	return out, nil
}

// StartPrefetchWorker drains the prefetch queue until ctx is cancelled. A
// single worker keeps background hydration from starving foreground traffic;
// prefetch shares the limiter and breaker with primary calls.
func (c *Client) StartPrefetchWorker(ctx context.Context) {
	for {
		select {
		case clubs := <-c.prefetch:
			for _, club := range clubs {
				if ctx.Err() != nil {
					return
				}
				if _, err := c.GetCourts(ctx, club.ID); err != nil {
					log.Debug().Err(err).Int("clubId", club.ID).Msg("upstream: courts prefetch failed")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// Metrics assembles the composite client status snapshot.
func (c *Client) Metrics() Metrics {
	return Metrics{
		Breaker:   c.breaker.Status(),
		KV:        c.cache.Stats(),
		RateLimit: c.limiter.Status(),
	}
}
