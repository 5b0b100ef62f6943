// Package metrics defines the prometheus collectors exported by huddled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Engine intents by name and outcome code.
	IntentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "sync",
			Name:      "intents_total",
			Help:      "Session intents processed",
		},
		[]string{"intent", "code"},
	)

	RecomputesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "sync",
			Name:      "recomputes_total",
			Help:      "Derived view recomputations by trigger",
		},
		[]string{"trigger"},
	)

	StaleResultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "sync",
			Name:      "stale_results_total",
			Help:      "Async send results discarded because the open conversation changed",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "huddle",
			Subsystem: "sync",
			Name:      "active_sessions",
			Help:      "Sessions currently running",
		},
	)

	AppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "messaging",
			Name:      "appends_total",
			Help:      "Message appends by outcome code",
		},
		[]string{"code"},
	)

	MarkSeenConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "messaging",
			Name:      "mark_seen_conflicts_total",
			Help:      "Optimistic version conflicts while marking entries seen",
		},
	)

	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "blob",
			Name:      "uploads_total",
			Help:      "Blob uploads by content type and status",
		},
		[]string{"content_type", "status"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "blob",
			Name:      "upload_bytes_total",
			Help:      "Bytes written to blob storage",
		},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "gRPC requests by method and status code",
		},
		[]string{"method", "code"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "huddle",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "gRPC unary request duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method"},
	)
)

// BusDropsCollector exports a bus drop counter read from fn.
func BusDropsCollector(fn func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: "huddle",
			Subsystem: "bus",
			Name:      "dropped_events_total",
			Help:      "Events skipped because a subscriber buffer was full",
		},
		func() float64 { return float64(fn()) },
	)
}

// BusSubscribersCollector exports the number of live bus subscriptions
// read from fn.
func BusSubscribersCollector(fn func() int) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "huddle",
			Subsystem: "bus",
			Name:      "subscribers",
			Help:      "Live bus subscriptions",
		},
		func() float64 { return float64(fn()) },
	)
}
