package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/availability"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/cache"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/events"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/interfaces/http/handlers"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/kv"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/metrics"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/circuit"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/ratelimit"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/upstream"
)

func newTestServer(t *testing.T, upstreamHandler http.HandlerFunc) (*Server, *miniredis.Miniredis) {
	t.Helper()
	fake := httptest.NewServer(upstreamHandler)
	t.Cleanup(fake.Close)

	mr := miniredis.RunT(t)
	store := kv.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })
	c := cache.New(store)

	breaker := circuit.New("upstream", circuit.Config{FailureThreshold: 5, SuccessThreshold: 3, Timeout: time.Minute})
	limiter := ratelimit.NewFixedWindow(60, time.Minute)
	client := upstream.New(upstream.Config{BaseURL: fake.URL}, c, limiter, breaker)
	planner := availability.New(client, c, availability.DefaultFanOut)
	engine := events.New(c, []string{"P"}, time.UTC)
	m := metrics.New()

	h := handlers.New(planner, engine, client, m)
	return NewServer(Config{Addr: ":0"}, h, m), mr
}

func seedUpstream() http.HandlerFunc {
	routes := map[string]string{
		"/clubs":                   `[{"id":1}]`,
		"/clubs/1/courts":          `[{"id":10}]`,
		"/clubs/1/courts/10/slots": `[{"price":500,"duration":60,"datetime":"2024-06-01T10:00:00Z","start":"10:00","end":"11:00","_priority":1}]`,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if body, ok := routes[r.URL.Path]; ok {
			w.Write([]byte(body))
			return
		}
		w.Write([]byte("[]"))
	}
}

func TestSearchEndpoint(t *testing.T) {
	s, _ := newTestServer(t, seedUpstream())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?placeId=P&date=2024-06-01", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := rec.Body.String()
	assert.Contains(t, body, `"id":1`)
	assert.Contains(t, body, `"available"`)
	assert.Contains(t, body, `"start":"10:00"`)
}

func TestSearchValidatesParams(t *testing.T) {
	s, _ := newTestServer(t, seedUpstream())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?date=2024-06-01", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?placeId=P&date=junk", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchNeverFails(t *testing.T) {
	s, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?placeId=P&date=2024-06-01", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestEventsEndpoint(t *testing.T) {
	s, mr := newTestServer(t, seedUpstream())

	mr.Set("slots:7:42:2024-06-02", "[]")
	mr.Set("slots:stale:7:42:2024-06-02", "[]")

	body := `{"type":"booking_created","clubId":7,"courtId":42,
		"slot":{"price":500,"duration":60,"datetime":"2024-06-02T15:00:00Z","start":"15:00","end":"16:00","_priority":1}}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, mr.Exists("slots:7:42:2024-06-02"))
	assert.False(t, mr.Exists("slots:stale:7:42:2024-06-02"))
}

func TestEventsRejectsMalformed(t *testing.T) {
	s, _ := newTestServer(t, seedUpstream())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{broken`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{"type":"club_exploded"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, seedUpstream())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"cache"`)
	assert.Contains(t, body, `"breaker"`)
	assert.Contains(t, body, `"rateLimit"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, seedUpstream())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search?placeId=P&date=2024-06-01", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "availability_request_duration_seconds")
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	s, _ := newTestServer(t, seedUpstream())

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestEventIngestionRateLimit(t *testing.T) {
	s, _ := newTestServer(t, seedUpstream())
	s.events = newIPLimiter(1)

	body := `{"type":"court_updated","clubId":1,"courtId":2,"fields":["name"]}`

	limited := false
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
		req.RemoteAddr = "10.0.0.1:1234"
		s.Router().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited, "a burst beyond the bucket should be limited")
}
