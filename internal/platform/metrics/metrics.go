package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the console.
type Metrics struct {
	SessionReconnects    prometheus.Counter
	SessionProbeFailures prometheus.Counter
	SessionLost          prometheus.Gauge

	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheFetchDuration *prometheus.HistogramVec

	Verifications *prometheus.CounterVec
}

// New creates and registers all metrics on reg. Passing a fresh registry keeps
// tests from colliding on the default one.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "ballotdesk_session_reconnects_total",
			Help: "Total number of backend handles established",
		}),
		SessionProbeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ballotdesk_session_probe_failures_total",
			Help: "Total number of failed liveness probes against the backend",
		}),
		SessionLost: f.NewGauge(prometheus.GaugeOpts{
			Name: "ballotdesk_session_lost",
			Help: "1 while the backend session is known to be lost",
		}),
		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotdesk_cache_hits_total",
			Help: "Cache reads served without a backend round trip",
		}, []string{"domain"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotdesk_cache_misses_total",
			Help: "Cache reads that required a backend fetch",
		}, []string{"domain"}),
		CacheFetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ballotdesk_cache_fetch_duration_ms",
			Help:    "Latency of cache hydration fetches in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"domain"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotdesk_admin_verifications_total",
			Help: "Fingerprint verifications by outcome",
		}, []string{"outcome"}),
	}
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) IncrementReconnects() {
	m.SessionReconnects.Inc()
}

func (m *Metrics) IncrementProbeFailures() {
	m.SessionProbeFailures.Inc()
}

func (m *Metrics) SetSessionLost(lost bool) {
	if lost {
		m.SessionLost.Set(1)
		return
	}
	m.SessionLost.Set(0)
}

func (m *Metrics) ObserveCacheHit(domain string) {
	m.CacheHits.WithLabelValues(domain).Inc()
}

func (m *Metrics) ObserveCacheMiss(domain string, durationMs float64) {
	m.CacheMisses.WithLabelValues(domain).Inc()
	m.CacheFetchDuration.WithLabelValues(domain).Observe(durationMs)
}

func (m *Metrics) ObserveVerification(outcome string) {
	m.Verifications.WithLabelValues(outcome).Inc()
}
