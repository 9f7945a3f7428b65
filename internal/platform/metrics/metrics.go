package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhook_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formhook_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	// IngestDeliveries counts inbound deliveries by outcome:
	// stored, duplicate, unknown_webhook, malformed, invalid_signature, too_large, storage_error.
	IngestDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhook_ingest_deliveries_total",
			Help: "Inbound webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "formhook_live_connections",
			Help: "Currently registered live dashboard connections",
		},
	)

	LiveSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhook_live_sends_total",
			Help: "Per-connection broadcast results",
		},
		[]string{"result"},
	)

	BroadcastDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "formhook_live_broadcast_duration_seconds",
			Help:    "Time to fan one event out to all live connections",
			Buckets: prometheus.DefBuckets,
		},
	)

	RelayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhook_relay_messages_total",
			Help: "Cross-instance relay messages by direction",
		},
		[]string{"direction"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhook_email_notifications_total",
			Help: "Email notifications by result",
		},
		[]string{"result"},
	)

	// Reconciled counts remote registration checks: ok, repaired, missing_form, failed.
	Reconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formhook_reconcile_checks_total",
			Help: "Remote webhook reconciliation checks by result",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			IngestDeliveries,
			LiveConnections,
			LiveSends,
			BroadcastDuration,
			RelayMessages,
			Notifications,
			Reconciled,
		)
	})
}
