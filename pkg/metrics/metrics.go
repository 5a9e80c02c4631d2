// Package metrics defines the Prometheus metric collectors used across the
// query-execution core and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryResultsCount    prometheus.Histogram
	MutationsTotal       *prometheus.CounterVec
	BulkBatchSize        prometheus.Histogram
	DocsStored           prometheus.Gauge
	AggregationLatency   prometheus.Histogram
	ActiveScrollContexts prometheus.Gauge
	ScrollExpiredTotal   prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
}

// New creates and registers all Prometheus metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by root query kind and outcome (hit, zero_result, error).",
			},
			[]string{"kind", "outcome"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		QueryResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		MutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mutations_total",
				Help: "Total mutations by operation (index, update, delete) and status.",
			},
			[]string{"op", "status"},
		),
		BulkBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bulk_batch_size",
				Help:    "Number of operations per bulk batch.",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
			},
		),
		DocsStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "documents_stored",
				Help: "Number of live documents in the store.",
			},
		),
		AggregationLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aggregation_latency_seconds",
				Help:    "Aggregation computation latency in seconds.",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
			},
		),
		ActiveScrollContexts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scroll_contexts_active",
				Help: "Number of live scroll contexts pinning snapshots.",
			},
		),
		ScrollExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scroll_contexts_expired_total",
				Help: "Total scroll contexts reaped after TTL expiry.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryResultsCount,
		m.MutationsTotal,
		m.BulkBatchSize,
		m.DocsStored,
		m.AggregationLatency,
		m.ActiveScrollContexts,
		m.ScrollExpiredTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
