package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for location resolution.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Cache metrics.
	CacheLookups *prometheus.CounterVec // labels: namespace, result={hit,miss,stale}
	CacheFlushes *prometheus.CounterVec // labels: namespace, outcome={success,error}

	// Source metrics.
	SourceRequests *prometheus.CounterVec   // labels: source, outcome={success,empty,error}
	SourceDuration *prometheus.HistogramVec // labels: source

	// Resolution metrics.
	Resolutions   *prometheus.CounterVec // labels: tier
	WorkerPanics  prometheus.Counter
	BatchSize     prometheus.Histogram
	BatchDuration prometheus.Histogram
	BatchWorkers  prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicmap",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by namespace and result.",
		}, []string{"namespace", "result"}),
		CacheFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicmap",
			Name:      "cache_flushes_total",
			Help:      "Cache namespace flushes to the backing store by outcome.",
		}, []string{"namespace", "outcome"}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicmap",
			Name:      "source_requests_total",
			Help:      "Outbound requests to external sources by outcome.",
		}, []string{"source", "outcome"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "musicmap",
			Name:      "source_request_duration_seconds",
			Help:      "External source request duration in seconds, courtesy delay excluded.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "musicmap",
			Name:      "resolutions_total",
			Help:      "Per-artist resolutions by winning candidate tier.",
		}, []string{"tier"}),
		WorkerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "musicmap",
			Name:      "worker_panics_total",
			Help:      "Resolver workers that failed unexpectedly and were isolated.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "musicmap",
			Name:      "batch_size",
			Help:      "Number of artists per resolve batch.",
			Buckets:   []float64{1, 5, 10, 20, 30, 50, 100},
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "musicmap",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a complete resolve batch.",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120},
		}),
		BatchWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "musicmap",
			Name:      "batch_workers",
			Help:      "Worker pool size chosen for the most recent batch.",
		}),
	}
}

// NewMetrics creates all collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(
		m.CacheLookups,
		m.CacheFlushes,
		m.SourceRequests,
		m.SourceDuration,
		m.Resolutions,
		m.WorkerPanics,
		m.BatchSize,
		m.BatchDuration,
		m.BatchWorkers,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// CacheLookup records the result of a cache read.
func (m *Metrics) CacheLookup(namespace, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(namespace, result).Inc()
}

// CacheFlush records a namespace flush outcome.
func (m *Metrics) CacheFlush(namespace string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.CacheFlushes.WithLabelValues(namespace, outcome).Inc()
}

// SourceRequest records an outbound request outcome and its latency.
func (m *Metrics) SourceRequest(source, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceRequests.WithLabelValues(source, outcome).Inc()
	m.SourceDuration.WithLabelValues(source).Observe(d.Seconds())
}

// Resolution records the tier that won for one artist.
func (m *Metrics) Resolution(tier string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(tier).Inc()
}

// WorkerPanic records an isolated worker failure.
func (m *Metrics) WorkerPanic() {
	if m == nil {
		return
	}
	m.WorkerPanics.Inc()
}

// Batch records batch-level figures.
func (m *Metrics) Batch(size, workers int, d time.Duration) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(size))
	m.BatchWorkers.Set(float64(workers))
	m.BatchDuration.Observe(d.Seconds())
}
