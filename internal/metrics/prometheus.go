// Package metrics holds the Prometheus collectors for the relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the relay. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsRejected *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Relay traffic
	AudioFramesForwarded prometheus.Counter
	AudioBytesForwarded  prometheus.Counter
	TranscriptDeltas     prometheus.Counter
	TranscriptFinals     prometheus.Counter
	UpstreamErrors       prometheus.Counter

	// Revision metrics
	RevisionRequests *prometheus.CounterVec
	RevisionDuration prometheus.Histogram
}

// New creates the metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "dictate_active_sessions",
			Help: "Current number of relay sessions",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_sessions_started_total",
			Help: "Total number of sessions that reached the upstream",
		}),
		SessionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dictate_sessions_rejected_total",
			Help: "Total number of sessions ended before relaying, by reason",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dictate_session_duration_seconds",
			Help:    "Duration of relay sessions",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		AudioFramesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_audio_frames_forwarded_total",
			Help: "Total number of client audio frames sent upstream",
		}),
		AudioBytesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_audio_bytes_forwarded_total",
			Help: "Total bytes of client audio sent upstream",
		}),
		TranscriptDeltas: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_transcript_deltas_total",
			Help: "Total number of interim transcript frames sent to clients",
		}),
		TranscriptFinals: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_transcript_finals_total",
			Help: "Total number of final transcript fragments accumulated",
		}),
		UpstreamErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "dictate_upstream_errors_total",
			Help: "Total number of error events received from the realtime service",
		}),

		RevisionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dictate_revision_requests_total",
			Help: "Total number of revision requests, by outcome",
		}, []string{"outcome"}),
		RevisionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dictate_revision_duration_seconds",
			Help:    "Duration of revision calls to the text model",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionOpened records a session that reached the upstream.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// SessionClosed records the end of a session opened with SessionOpened.
func (m *Metrics) SessionClosed(seconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(seconds)
}

// SessionRejected records a session that ended before relaying.
func (m *Metrics) SessionRejected(reason string) {
	if m == nil {
		return
	}
	m.SessionsRejected.WithLabelValues(reason).Inc()
}

// AudioForwarded records one audio frame sent upstream.
func (m *Metrics) AudioForwarded(n int) {
	if m == nil {
		return
	}
	m.AudioFramesForwarded.Inc()
	m.AudioBytesForwarded.Add(float64(n))
}

// Delta records one interim transcript frame.
func (m *Metrics) Delta() {
	if m == nil {
		return
	}
	m.TranscriptDeltas.Inc()
}

// Final records one accumulated transcript fragment.
func (m *Metrics) Final() {
	if m == nil {
		return
	}
	m.TranscriptFinals.Inc()
}

// UpstreamError records one upstream error event.
func (m *Metrics) UpstreamError() {
	if m == nil {
		return
	}
	m.UpstreamErrors.Inc()
}

// Revision records one revision request outcome ("ok", "invalid", "failed").
func (m *Metrics) Revision(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RevisionRequests.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.RevisionDuration.Observe(seconds)
	}
}
