// Package metrics holds the Prometheus collectors of the dashboard service.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests and one-shot CLI commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all collectors behind a private registry.
type Metrics struct {
	registry *prometheus.Registry

	fetchesTotal     *prometheus.CounterVec
	cacheHitsTotal   *prometheus.CounterVec
	abortsTotal      *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	fetchSeconds     *prometheus.HistogramVec
	exportsTotal     *prometheus.CounterVec
	blobsLive        prometheus.Gauge
	preferenceWrites *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulndash_fetches_total",
				Help: "Backend fetches issued by data sources",
			},
			[]string{"source"},
		),
		cacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulndash_cache_hits_total",
				Help: "Requests answered from a data source cache",
			},
			[]string{"source"},
		),
		abortsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulndash_fetch_aborts_total",
				Help: "In-flight fetches aborted because no requester remained",
			},
			[]string{"source"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulndash_fetch_errors_total",
				Help: "Failed fetches by error kind",
			},
			[]string{"source", "kind"},
		),
		fetchSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vulndash_fetch_duration_seconds",
				Help:    "Backend fetch latency",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"source"},
		),
		exportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulndash_exports_total",
				Help: "Chart export artifacts created",
			},
			[]string{"format"},
		),
		blobsLive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vulndash_blobs_live",
				Help: "Export blobs currently addressable",
			},
		),
		preferenceWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vulndash_preference_writes_total",
				Help: "Layout preference writes by result",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.fetchesTotal,
		m.cacheHitsTotal,
		m.abortsTotal,
		m.errorsTotal,
		m.fetchSeconds,
		m.exportsTotal,
		m.blobsLive,
		m.preferenceWrites,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) FetchStarted(source string) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) CacheHit(source string) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) FetchAborted(source string) {
	if m == nil {
		return
	}
	m.abortsTotal.WithLabelValues(source).Inc()
}

// FetchFailed counts a failure; kind is one of "http", "parse",
// "status" or "unauthorized".
func (m *Metrics) FetchFailed(source, kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(source, kind).Inc()
}

func (m *Metrics) ObserveFetch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchSeconds.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) ExportCreated(format string) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(format).Inc()
}

func (m *Metrics) SetBlobsLive(n int) {
	if m == nil {
		return
	}
	m.blobsLive.Set(float64(n))
}

func (m *Metrics) PreferenceWritten(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.preferenceWrites.WithLabelValues(result).Inc()
}
