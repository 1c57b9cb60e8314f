package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the HLS viewer.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	validationsTotal *prometheus.CounterVec
	streamsCreated   prometheus.Counter
	submitsRejected  *prometheus.CounterVec
	playbackLoads    prometheus.Counter
	playbackFailures *prometheus.CounterVec
	activeViews      prometheus.Gauge
	activeForms      prometheus.Gauge
}

// New creates and registers Prometheus metrics for the viewer.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		validationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_validations_total",
			Help: "Stream checks by resulting error kind (None for success)",
		}, []string{"kind"}),
		streamsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_streams_created_total",
			Help: "Total number of stream records created",
		}),
		submitsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_submits_rejected_total",
			Help: "Form or create submissions rejected by validation state",
		}, []string{"phase"}),
		playbackLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hls_playback_loads_total",
			Help: "Total number of playback sessions started",
		}),
		playbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hls_playback_failures_total",
			Help: "Playback failures by error kind",
		}, []string{"kind"}),
		activeViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_active_views",
			Help: "Number of open player views",
		}),
		activeForms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hls_active_forms",
			Help: "Number of open validation forms",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.validationsTotal,
		m.streamsCreated,
		m.submitsRejected,
		m.playbackLoads,
		m.playbackFailures,
		m.activeViews,
		m.activeForms,
	)
	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveValidation counts a finished check by kind.
func (m *Metrics) ObserveValidation(kind string) {
	m.validationsTotal.WithLabelValues(kind).Inc()
}

// IncStreamsCreated increments the created streams counter.
func (m *Metrics) IncStreamsCreated() {
	m.streamsCreated.Inc()
}

// IncSubmitRejected counts a rejected submission by validation phase.
func (m *Metrics) IncSubmitRejected(phase string) {
	m.submitsRejected.WithLabelValues(phase).Inc()
}

// IncPlaybackLoads increments the playback load counter.
func (m *Metrics) IncPlaybackLoads() {
	m.playbackLoads.Inc()
}

// IncPlaybackFailure counts a playback failure by kind.
func (m *Metrics) IncPlaybackFailure(kind string) {
	m.playbackFailures.WithLabelValues(kind).Inc()
}

// SetActiveViews sets the open views gauge.
func (m *Metrics) SetActiveViews(n int) {
	m.activeViews.Set(float64(n))
}

// SetActiveForms sets the open forms gauge.
func (m *Metrics) SetActiveForms(n int) {
	m.activeForms.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
