package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/availability"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/events"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/kv"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/metrics"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/circuit"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/upstream"
)

const maxEventBody = 1 << 20 // 1 MiB

// Handlers holds the HTTP endpoint implementations over the core components.
type Handlers struct {
	planner *availability.Planner
	engine  *events.Engine
	client  *upstream.Client
	metrics *metrics.Registry
}

// New wires the handlers.
func New(planner *availability.Planner, engine *events.Engine, client *upstream.Client, m *metrics.Registry) *Handlers {
	return &Handlers{planner: planner, engine: engine, client: client, metrics: m}
}

// Search serves GET /search?placeId=…&date=YYYY-MM-DD. The contract is
// "return something, never fail": once the parameters validate, the response
// is always 200 with an array.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	placeID := r.URL.Query().Get("placeId")
	if placeID == "" {
		writeError(w, http.StatusBadRequest, "placeId is required")
		return
	}
	date, err := availability.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	tree, err := h.planner.GetAvailability(r.Context(), placeID, date)
	if err != nil {
		log.Error().Err(err).Str("placeId", placeID).Str("date", date).Msg("http: availability query degraded")
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// Events serves POST /events. Malformed bodies and unknown tags are rejected
// here; anything past this line is acknowledged regardless of how the
// invalidation fares.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := events.Decode(body)
	if err != nil {
		h.metrics.EventsIngested.WithLabelValues("unknown", "rejected").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.engine.Process(r.Context(), ev)
	h.metrics.EventsIngested.WithLabelValues(ev.EventType(), "accepted").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthResponse is the JSON status snapshot.
type healthResponse struct {
	Status   string           `json:"status"`
	Cache    kv.Stats         `json:"cache"`
	Breaker  circuit.Status   `json:"breaker"`
	Events   events.Stats     `json:"events"`
	Upstream upstream.Metrics `json:"upstream"`
}

// Health serves GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	m := h.client.Metrics()
	resp := healthResponse{
		Status:   "ok",
		Cache:    m.KV,
		Breaker:  m.Breaker,
		Events:   h.engine.Stats(),
		Upstream: m,
	}
	if !m.KV.Connected || m.Breaker.State == "open" {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// NotFound keeps 404s JSON like everything else.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("http: response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
