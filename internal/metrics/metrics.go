package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the decoy's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Interactions       *prometheus.CounterVec
	CaptureErrors      prometheus.Counter
	CapturePanics      prometheus.Counter
	CredentialAttempts *prometheus.CounterVec
	Signals            *prometheus.CounterVec
	TruncatedBodies    prometheus.Counter
	AppendDuration     prometheus.Histogram
	Alerts             *prometheus.CounterVec
	ShedRequests       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decoy_interactions_total",
			Help: "Interactions captured, by interaction kind",
		}, []string{"kind"}),
		CaptureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decoy_capture_errors_total",
			Help: "Interactions that could not be persisted",
		}),
		CapturePanics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decoy_capture_panics_total",
			Help: "Panics recovered inside the capture path",
		}),
		CredentialAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decoy_credential_attempts_total",
			Help: "Login submissions received, by interaction kind",
		}, []string{"kind"}),
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decoy_attack_signals_total",
			Help: "Attack signals tagged on captured interactions",
		}, []string{"signal"}),
		TruncatedBodies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decoy_truncated_bodies_total",
			Help: "Request bodies cut at the capture size limit",
		}),
		AppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "decoy_capture_append_duration_seconds",
			Help:    "Time spent persisting one interaction",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 5.0},
		}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "decoy_alerts_total",
			Help: "Operator alerts, by provider and result",
		}, []string{"provider", "result"}),
		ShedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decoy_shed_requests_total",
			Help: "Decoy requests rejected by the in-flight limit before capture",
		}),
	}

	m.registry.MustRegister(
		m.Interactions,
		m.CaptureErrors,
		m.CapturePanics,
		m.CredentialAttempts,
		m.Signals,
		m.TruncatedBodies,
		m.AppendDuration,
		m.Alerts,
		m.ShedRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCapture records one persisted interaction.
func (m *Metrics) ObserveCapture(kind string, signals []string, truncated bool, took time.Duration) {
	m.Interactions.WithLabelValues(kind).Inc()
	for _, s := range signals {
		m.Signals.WithLabelValues(s).Inc()
	}
	if truncated {
		m.TruncatedBodies.Inc()
	}
	m.AppendDuration.Observe(took.Seconds())
}
