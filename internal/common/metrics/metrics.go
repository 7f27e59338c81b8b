package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PushMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_push_messages_total",
			Help: "Push messages received on the notification topic",
		},
		[]string{"result"}, // accepted, malformed, dropped
	)

	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_push_connected",
			Help: "1 while the push channel handshake is complete",
		},
	)

	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_push_connect_attempts_total",
			Help: "Push channel connection attempts",
		},
		[]string{"result"}, // connected, failed, skipped
	)

	Refetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_inbox_refetch_total",
			Help: "Inbox refetches by outcome",
		},
		[]string{"trigger", "result"},
	)

	RefetchesCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifier_inbox_refetch_coalesced_total",
			Help: "Invalidations folded into an already pending refetch",
		},
	)

	MarkRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_inbox_mark_read_total",
			Help: "Mark-as-read calls by outcome",
		},
		[]string{"result"},
	)

	Unread = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_inbox_unread",
			Help: "Current unread notification count",
		},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifier_api_request_duration_seconds",
			Help:    "Duration of notification API calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	Alerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_alerts_total",
			Help: "Transient alerts emitted by priority",
		},
		[]string{"priority", "delivered"},
	)
)

// BoolGauge converts a flag to a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
