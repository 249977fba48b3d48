package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/interfaces/http/handlers"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/metrics"
)

// Server is the REST surface: the availability query, event ingestion and the
// observability endpoints.
type Server struct {
	router  *mux.Router
	server  *http.Server
	metrics *metrics.Registry
	events  *ipLimiter
}

// Config holds server settings.
type Config struct {
	Addr string
	// EventRPS bounds per-client ingestion; zero disables the limit.
	EventRPS     float64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer builds the router and middleware chain around the handlers.
func NewServer(cfg Config, h *handlers.Handlers, m *metrics.Registry) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		// The query path can legitimately wait out a rate-limit window.
		cfg.WriteTimeout = 90 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	s := &Server{
		router:  mux.NewRouter(),
		metrics: m,
		events:  newIPLimiter(cfg.EventRPS),
	}

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/search", h.Search).Methods(http.MethodGet)
	s.router.Handle("/events", s.eventLimitMiddleware(http.HandlerFunc(h.Events))).Methods(http.MethodPost)
	s.router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	s.router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(h.NotFound)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http: listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http: shutting down")
	return s.server.Shutdown(ctx)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)
		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", duration).
			Msg("http: request")

		route := r.URL.Path
		if s.metrics != nil {
			s.metrics.RequestDuration.
				WithLabelValues(route, strconv.Itoa(wrapper.status)).
				Observe(duration.Seconds())
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("http: handler panicked")
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// eventLimitMiddleware bounds ingestion bursts per client address so a noisy
// producer cannot monopolize the invalidation path.
func (s *Server) eventLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.events.allow(clientAddr(r)) {
			http.Error(w, `{"error":"too many events"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ipLimiter keeps one token bucket per client address.
type ipLimiter struct {
	mu       sync.Mutex
	rps      float64
	limiters map[string]*rate.Limiter
}

func newIPLimiter(rps float64) *ipLimiter {
	return &ipLimiter{rps: rps, limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) allow(addr string) bool {
	if l.rps <= 0 {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[addr]
	if !ok {
		burst := int(l.rps * 2)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(l.rps), burst)
		l.limiters[addr] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
