// Package metrics defines the Prometheus instrumentation for the broadcast
// engine. All collectors are registered via promauto at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session registry metrics
var (
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Current number of live sessions",
		},
	)

	ChannelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "channels_active",
			Help: "Current number of channels with at least one subscriber",
		},
	)

	SessionsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessions_reaped_total",
			Help: "Total sessions evicted by the inactivity reaper",
		},
	)
)

// Protocol metrics
var (
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocol_messages_received_total",
			Help: "Inbound messages by type",
		},
		[]string{"type"},
	)

	ProtocolErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocol_errors_total",
			Help: "Error replies sent to clients by error code",
		},
		[]string{"code"},
	)

	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total messages rejected by the per-client rate limiter",
		},
	)
)

// Broadcaster metrics
var (
	BroadcastQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_queue_depth",
			Help: "Current number of pending items in the broadcast queue",
		},
	)

	MessagesDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_messages_delivered_total",
			Help: "Total per-recipient deliveries that succeeded",
		},
	)

	DeliveryFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_delivery_failures_total",
			Help: "Total per-recipient deliveries that failed",
		},
	)

	DeliveryBreakerOpensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_delivery_breaker_opens_total",
			Help: "Total per-session delivery circuit breaker open transitions",
		},
	)

	FanoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "broadcast_fanout_duration_seconds",
			Help:    "Time spent fanning out a single queue item to all recipients",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
)

// Transport metrics
var (
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_rejected_total",
			Help: "Connections rejected at admission by reason",
		},
		[]string{"reason"},
	)

	SlowClientsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slow_clients_evicted_total",
			Help: "Total clients disconnected because their send buffer was full",
		},
	)

	MessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "WebSocket write duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)
)
