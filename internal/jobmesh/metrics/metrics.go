package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "jobmesh_"

var (
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricPrefix + "events_processed_total",
			Help: "Number of fleet events processed, by event type",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricPrefix + "events_dropped_total",
			Help: "Number of fleet events dropped, by reason",
		},
		[]string{"reason"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricPrefix + "event_processing_seconds",
			Help:    "Event handling duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	JobsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricPrefix + "jobs_dispatched_total",
			Help: "Number of jobs submitted to the broker, by method",
		},
		[]string{"method"},
	)
)
