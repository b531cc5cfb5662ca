// Package metrics defines the Prometheus metric collectors used by the index
// and search services and exposes an HTTP handler for scraping. Recording
// methods are safe on a nil *Metrics so library callers may omit metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	SearchQueriesTotal     *prometheus.CounterVec
	SearchLatency          *prometheus.HistogramVec
	SearchResultsCount     prometheus.Histogram
	ScratchCleanupFailures prometheus.Counter
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
	DocsIndexedTotal       prometheus.Counter
	DocsRemovedTotal       prometheus.Counter
	IndexBatchFailures     *prometheus.CounterVec
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by result type (hit, zero_result, empty_query, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"result_type"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		ScratchCleanupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scratch_cleanup_failures_total",
				Help: "Scratch result keys that could not be deleted after a query.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		DocsRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_removed_total",
				Help: "Total documents removed from the index.",
			},
		),
		IndexBatchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_batch_failures_total",
				Help: "Index mutation batches that failed, by operation.",
			},
			[]string{"op"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.ScratchCleanupFailures,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DocsIndexedTotal,
		m.DocsRemovedTotal,
		m.IndexBatchFailures,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveSearch records one finished query.
func (m *Metrics) ObserveSearch(resultType string, elapsed time.Duration, returned int) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	m.SearchLatency.WithLabelValues(resultType).Observe(elapsed.Seconds())
	m.SearchResultsCount.Observe(float64(returned))
}

func (m *Metrics) ScratchCleanupFailed() {
	if m == nil {
		return
	}
	m.ScratchCleanupFailures.Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) DocIndexed() {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Inc()
}

func (m *Metrics) DocRemoved() {
	if m == nil {
		return
	}
	m.DocsRemovedTotal.Inc()
}

func (m *Metrics) BatchFailed(op string) {
	if m == nil {
		return
	}
	m.IndexBatchFailures.WithLabelValues(op).Inc()
}

// SetBreakerState publishes a circuit breaker state; state is the numeric
// value of resilience.State.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
