// Package metrics exposes Prometheus collectors for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lineage/api/internal/validity"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	summaryLookups  *prometheus.CounterVec
	violations      *prometheus.CounterVec
	searchFallbacks prometheus.Counter
}

var _ validity.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lineage",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		summaryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage",
			Name:      "bishop_summary_lookups_total",
			Help:      "Bishop summary lookups by cache result.",
		}, []string{"result"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lineage",
			Name:      "status_inheritance_violations_total",
			Help:      "Status inheritance violations by record kind.",
		}, []string{"kind"}),
		searchFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lineage",
			Name:      "search_fallbacks_total",
			Help:      "Searches served by Postgres full-text search instead of Meilisearch.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.summaryLookups,
		m.violations,
		m.searchFallbacks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one finished request. route should be a template
// such as /api/clergy/{id}, never a raw path.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) SummaryLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.summaryLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Violation(kind validity.Kind) {
	m.violations.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SearchFallback() {
	m.searchFallbacks.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
