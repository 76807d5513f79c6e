// Package observ holds the Prometheus metrics exported by the core.
package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups all counters the core maintains. Components receive the
// struct and record through it so tests can pass a fresh registry.
type Metrics struct {
	EventsDetected    *prometheus.CounterVec
	EventsDebounced   prometheus.Counter
	AdapterFetches    *prometheus.CounterVec
	AdapterDuration   *prometheus.HistogramVec
	NotificationsSent *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	QueueRejected     prometheus.Counter
	BriefsGenerated   *prometheus.CounterVec
}

// New registers all metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ohmystock_events_detected_total",
			Help: "Price events detected, by market and window.",
		}, []string{"market", "window"}),
		EventsDebounced: factory.NewCounter(prometheus.CounterOpts{
			Name: "ohmystock_events_debounced_total",
			Help: "Candidate events suppressed by debounce.",
		}),
		AdapterFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ohmystock_adapter_fetches_total",
			Help: "Reason source adapter fetches, by source and outcome.",
		}, []string{"source", "outcome"}),
		AdapterDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ohmystock_adapter_fetch_duration_seconds",
			Help:    "Reason source adapter fetch duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ohmystock_notifications_sent_total",
			Help: "Notifications sent, by channel.",
		}, []string{"channel"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ohmystock_reason_queue_depth",
			Help: "Pending events in the reason-engine work queue.",
		}),
		QueueRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "ohmystock_reason_queue_rejected_total",
			Help: "Queue pushes rejected with backpressure.",
		}),
		BriefsGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ohmystock_briefs_generated_total",
			Help: "Briefs generated, by type and fallback reason.",
		}, []string{"brief_type", "fallback_reason"}),
	}
}

// NewForTest creates metrics on a throwaway registry.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}
