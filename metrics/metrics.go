// Package metrics defines the prometheus instrumentation for the
// pipeline. Construct one Metrics per process and inject it where
// needed; collectors are registered on the registry passed to New.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the pipeline collectors.
type Metrics struct {
	ItemsCompleted    *prometheus.CounterVec
	ItemsRequeued     *prometheus.CounterVec
	ItemsFailed       *prometheus.CounterVec
	ItemsDeadLettered *prometheus.CounterVec
	HandlerDuration   *prometheus.HistogramVec
	ThrottleEvents    prometheus.Counter
	ThrottleDelay     prometheus.Gauge
	JobsCreated       prometheus.Counter
}

// New creates and registers the pipeline collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ItemsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharesync_items_completed_total",
			Help: "Items completed successfully, by operation kind.",
		}, []string{"kind"}),
		ItemsRequeued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharesync_items_requeued_total",
			Help: "Items republished for retry, by operation kind.",
		}, []string{"kind"}),
		ItemsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharesync_items_failed_total",
			Help: "Items failed permanently, by operation kind.",
		}, []string{"kind"}),
		ItemsDeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharesync_items_dead_lettered_total",
			Help: "Items escalated to the dead-letter queue, by operation kind.",
		}, []string{"kind"}),
		HandlerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sharesync_handler_duration_seconds",
			Help:    "Handler execution time, by operation kind and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "outcome"}),
		ThrottleEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharesync_throttle_events_total",
			Help: "Upstream rate-limit signals observed.",
		}),
		ThrottleDelay: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sharesync_throttle_delay_seconds",
			Help: "Current adaptive pacing delay.",
		}),
		JobsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharesync_jobs_created_total",
			Help: "Jobs created by the producer.",
		}),
	}
}
