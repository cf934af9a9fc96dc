// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsTotal tracks conversations created, by kind (direct, group).
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_conversations_total",
			Help: "Total conversations created",
		},
		[]string{"kind"},
	)

	// MessagesTotal tracks messages appended to the log.
	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total messages sent",
		},
	)

	// ReactionsTotal tracks reaction mutations by operation (set, clear).
	ReactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reactions_total",
			Help: "Total reaction changes",
		},
		[]string{"op"},
	)

	// ReadReceiptsTotal tracks messages newly marked as seen.
	ReadReceiptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_read_receipts_total",
			Help: "Total messages marked as seen",
		},
	)

	// RealtimeConnectionsActive tracks open websocket connections.
	RealtimeConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_realtime_connections_active",
			Help: "Number of active realtime connections",
		},
	)

	// RealtimeEventsTotal tracks realtime events handed to connections, by outcome.
	RealtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_realtime_events_total",
			Help: "Realtime events by name and outcome (delivered, dropped)",
		},
		[]string{"event", "outcome"},
	)

	// JournalPublishTotal tracks events mirrored to the NATS journal.
	JournalPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_journal_publish_total",
			Help: "Events published to the event journal",
		},
		[]string{"status"},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSStreamBytes tracks bytes in NATS stream.
	NATSStreamBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_bytes",
			Help: "Bytes in NATS stream",
		},
		[]string{"stream"},
	)

	// RetentionRunsTotal tracks retention sweeps by status.
	RetentionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_retention_runs_total",
			Help: "Retention sweeps",
		},
		[]string{"status"},
	)

	// RetentionPointersCleared tracks lastMessage pointers reset after expiry.
	RetentionPointersCleared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_retention_pointers_cleared_total",
			Help: "Conversation lastMessage pointers cleared after message expiry",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordRealtimeEvent counts one event handed to (or dropped for) a connection.
func RecordRealtimeEvent(event string, delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "dropped"
	}
	RealtimeEventsTotal.WithLabelValues(event, outcome).Inc()
}

// IncrementRealtimeConnections increments the active connection count.
func IncrementRealtimeConnections() {
	RealtimeConnectionsActive.Inc()
}

// DecrementRealtimeConnections decrements the active connection count.
func DecrementRealtimeConnections() {
	RealtimeConnectionsActive.Dec()
}
