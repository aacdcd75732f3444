package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: no camera ids or file names.

var (
	RoutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventgate_routed_total",
		Help: "Total inbox files routed by outcome",
	}, []string{"outcome"})

	PassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventgate_pass_duration_seconds",
		Help:    "Duration of one inbox pass",
		Buckets: prometheus.DefBuckets,
	})

	PassesSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventgate_passes_skipped_total",
		Help: "Inbox passes skipped",
	}, []string{"reason"})

	InboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventgate_inbox_depth",
		Help: "Files found in the inbox at the start of the last pass",
	})

	DetectorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventgate_detector_latency_ms",
		Help:    "Detector call latency in milliseconds",
		Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000},
	})

	DetectorFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventgate_detector_failures_total",
		Help: "Detector calls that failed",
	}, []string{"reason"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventgate_notifications_total",
		Help: "Notification attempts by channel and result",
	}, []string{"channel", "result"})

	RetryQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventgate_retry_queue_depth",
		Help: "Records waiting in the chat retry queue",
	})

	RetryPersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventgate_retry_persisted_total",
		Help: "Retry records written",
	}, []string{"result"})

	RetryRedeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventgate_retry_redelivered_total",
		Help: "Retry redelivery attempts by result",
	}, []string{"result"})

	IngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventgate_ingest_attachments_total",
		Help: "Mail attachments processed by result",
	}, []string{"result"})

	SinkFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventgate_sink_failures_total",
		Help: "Failures of optional outcome sinks",
	}, []string{"sink"})
)
