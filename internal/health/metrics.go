package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ingestion core's Prometheus instrumentation,
// modeled on internal/escrow/metrics.go's promauto-registered
// CounterVec/HistogramVec/GaugeVec bundle.
type Metrics struct {
	EventsProcessed       *prometheus.CounterVec
	RegistrationFailures  *prometheus.CounterVec
	HandlerDuration       *prometheus.HistogramVec
	RegistrationsActive   *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics against the
// default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_events_processed_total",
				Help: "Total number of ingested events by terminal status",
			},
			[]string{"status"}, // completed, failed, ignored
		),
		RegistrationFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_registration_failures_total",
				Help: "Total number of handler failures recorded against a topic/shop registration",
			},
			[]string{"topic", "shop"},
		),
		HandlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_handler_duration_seconds",
				Help:    "Duration of one topic dispatch, across all registered handlers",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),
		RegistrationsActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_registrations_active",
				Help: "Whether a topic/shop registration is active (1) or failed (0)",
			},
			[]string{"topic", "shop"},
		),
	}
}

// RecordEvent increments the processed-events counter for a terminal
// status ("completed", "failed", "ignored").
func (m *Metrics) RecordEvent(status string) {
	m.EventsProcessed.WithLabelValues(status).Inc()
}

// RecordHandlerDuration observes one topic dispatch's wall time.
func (m *Metrics) RecordHandlerDuration(topic string, seconds float64) {
	m.HandlerDuration.WithLabelValues(topic).Observe(seconds)
}

// RecordRegistrationOutcome updates the failure counter and active gauge
// for one topic/shop registration.
func (m *Metrics) RecordRegistrationOutcome(topic, shop string, failed bool) {
	if failed {
		m.RegistrationFailures.WithLabelValues(topic, shop).Inc()
		m.RegistrationsActive.WithLabelValues(topic, shop).Set(0)
		return
	}
	m.RegistrationsActive.WithLabelValues(topic, shop).Set(1)
}
