package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DaemonMetrics are the Prometheus collectors the daemon exposes on
// GET /metrics, alongside the three index/query/status endpoints. Unlike
// QueryMetrics (a local, SQLite-backed pattern cache), these are in-memory
// counters/histograms meant to be scraped, not queried back by the daemon
// itself.
type DaemonMetrics struct {
	Registry *prometheus.Registry

	IndexDuration   prometheus.Histogram
	QueryDuration   prometheus.Histogram
	IndexRequests   *prometheus.CounterVec // labeled by outcome: ok, busy, error
	QueryRequests   *prometheus.CounterVec
	LLMInvocations  *prometheus.CounterVec // labeled by outcome: used, skipped, degraded
	RepoCacheLoaded prometheus.Gauge
}

// NewDaemonMetrics builds a fresh set of daemon collectors against their
// own registry (not the global default), so multiple Daemon instances in
// the same process - as in tests - don't collide on duplicate registration.
func NewDaemonMetrics() *DaemonMetrics {
	m := &DaemonMetrics{
		Registry: prometheus.NewRegistry(),
		IndexDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "xtrc",
			Subsystem: "daemon",
			Name:      "index_duration_seconds",
			Help:      "Duration of POST /index requests.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "xtrc",
			Subsystem: "daemon",
			Name:      "query_duration_seconds",
			Help:      "Duration of POST /query requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		IndexRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xtrc",
			Subsystem: "daemon",
			Name:      "index_requests_total",
			Help:      "POST /index requests by outcome.",
		}, []string{"outcome"}),
		QueryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xtrc",
			Subsystem: "daemon",
			Name:      "query_requests_total",
			Help:      "POST /query requests by outcome.",
		}, []string{"outcome"}),
		LLMInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xtrc",
			Subsystem: "daemon",
			Name:      "llm_invocations_total",
			Help:      "LLM collaborator calls by outcome.",
		}, []string{"outcome"}),
		RepoCacheLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xtrc",
			Subsystem: "daemon",
			Name:      "repos_loaded",
			Help:      "Number of repos currently held in the daemon's in-memory cache.",
		}),
	}

	m.Registry.MustRegister(
		m.IndexDuration,
		m.QueryDuration,
		m.IndexRequests,
		m.QueryRequests,
		m.LLMInvocations,
		m.RepoCacheLoaded,
	)

	return m
}

// ObserveIndex records one POST /index request.
func (m *DaemonMetrics) ObserveIndex(d time.Duration, outcome string) {
	m.IndexDuration.Observe(d.Seconds())
	m.IndexRequests.WithLabelValues(outcome).Inc()
}

// ObserveQuery records one POST /query request.
func (m *DaemonMetrics) ObserveQuery(d time.Duration, outcome string) {
	m.QueryDuration.Observe(d.Seconds())
	m.QueryRequests.WithLabelValues(outcome).Inc()
}

// ObserveLLM records one LLM collaborator call outcome ("used", "skipped",
// or "degraded").
func (m *DaemonMetrics) ObserveLLM(outcome string) {
	m.LLMInvocations.WithLabelValues(outcome).Inc()
}

// SetReposLoaded reports the current size of the daemon's repo cache.
func (m *DaemonMetrics) SetReposLoaded(n int) {
	m.RepoCacheLoaded.Set(float64(n))
}
