package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/events"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/kv"
	"github.com/Escanor68/alquilatucancha-backend-challenge/internal/net/circuit"
)

// Registry bundles the service's Prometheus metrics. Component counters are
// scraped through snapshot collectors so the hot paths stay on atomics.
type Registry struct {
	registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	EventsIngested  *prometheus.CounterVec
}

// New creates the registry and its direct instruments.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "availability_request_duration_seconds",
				Help:    "HTTP request duration by route and status",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"route", "status"},
		),
		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "availability_events_ingested_total",
				Help: "Ingested events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}
	r.registry.MustRegister(
		r.RequestDuration,
		r.EventsIngested,
		collectors.NewGoCollector(),
	)
	return r
}

// Handler serves the exposition endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveCache registers a collector over the KV adapter counters.
func (r *Registry) ObserveCache(stats func() kv.Stats) {
	r.registry.MustRegister(&cacheCollector{stats: stats})
}

// ObserveBreaker registers a collector over the breaker state.
func (r *Registry) ObserveBreaker(status func() circuit.Status) {
	r.registry.MustRegister(&breakerCollector{status: status})
}

// ObserveEvents registers a collector over the invalidation engine counters.
func (r *Registry) ObserveEvents(stats func() events.Stats) {
	r.registry.MustRegister(&eventsCollector{stats: stats})
}

var (
	cacheHitsDesc   = prometheus.NewDesc("availability_cache_hits_total", "KV cache hits", nil, nil)
	cacheMissesDesc = prometheus.NewDesc("availability_cache_misses_total", "KV cache misses", nil, nil)
	cacheErrorsDesc = prometheus.NewDesc("availability_cache_errors_total", "KV transport errors", nil, nil)
	cacheOpsDesc    = prometheus.NewDesc("availability_cache_operations_total", "KV operations", nil, nil)
	cacheConnDesc   = prometheus.NewDesc("availability_cache_connected", "KV liveness (1 connected)", nil, nil)
)

type cacheCollector struct {
	stats func() kv.Stats
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheHitsDesc
	ch <- cacheMissesDesc
	ch <- cacheErrorsDesc
	ch <- cacheOpsDesc
	ch <- cacheConnDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(cacheHitsDesc, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(cacheMissesDesc, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(cacheErrorsDesc, prometheus.CounterValue, float64(s.Errors))
	ch <- prometheus.MustNewConstMetric(cacheOpsDesc, prometheus.CounterValue, float64(s.Operations))
	connected := 0.0
	if s.Connected {
		connected = 1.0
	}
	ch <- prometheus.MustNewConstMetric(cacheConnDesc, prometheus.GaugeValue, connected)
}

var breakerStateDesc = prometheus.NewDesc(
	"availability_breaker_state", "Breaker state (0 closed, 1 half-open, 2 open)", nil, nil)

type breakerCollector struct {
	status func() circuit.Status
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- breakerStateDesc
}

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	value := 0.0
	switch c.status().State {
	case "half-open":
		value = 1.0
	case "open":
		value = 2.0
	}
	ch <- prometheus.MustNewConstMetric(breakerStateDesc, prometheus.GaugeValue, value)
}

var (
	eventsProcessedDesc = prometheus.NewDesc("availability_events_processed_total", "Events applied", nil, nil)
	eventsErrorsDesc    = prometheus.NewDesc("availability_events_errors_total", "Event processing errors", nil, nil)
)

type eventsCollector struct {
	stats func() events.Stats
}

func (c *eventsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- eventsProcessedDesc
	ch <- eventsErrorsDesc
}

func (c *eventsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(eventsProcessedDesc, prometheus.CounterValue, float64(s.Processed))
	ch <- prometheus.MustNewConstMetric(eventsErrorsDesc, prometheus.CounterValue, float64(s.Errors))
}
