// Package metrics provides Prometheus instrumentation for claimsync.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics (dev server).
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimsync_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claimsync_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RPC metrics, recorded on both the gateway client and the dev server.
var (
	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimsync_rpc_requests_total",
		Help: "Total number of ConnectRPC requests.",
	}, []string{"service", "method", "code"})

	RPCRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claimsync_rpc_request_duration_seconds",
		Help:    "ConnectRPC request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "method"})
)

// Claim cache metrics.
var (
	ClaimsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claimsync_claims_active",
		Help: "Number of conversations claimed by the signed-in agent.",
	})

	ViewsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claimsync_views_active",
		Help: "Number of conversations the agent is viewing without a claim.",
	})

	UnreadFlags = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claimsync_unread_flags",
		Help: "Number of conversations flagged as having unread messages.",
	})

	PushEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimsync_push_events_total",
		Help: "Total number of realtime push events applied, by kind.",
	}, []string{"kind"})

	StaleOperationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimsync_stale_operations_total",
		Help: "Total number of claim confirmations dropped as stale.",
	})

	SubscriberDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimsync_subscriber_drops_total",
		Help: "Total number of cache updates dropped because a subscriber was full.",
	})
)

// Poller metrics.
var (
	PollSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimsync_poll_sweeps_total",
		Help: "Total number of poll sweeps, by task and result.",
	}, []string{"task", "result"})

	PollTimersArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claimsync_poll_timers_armed",
		Help: "Number of currently armed poll timers.",
	})
)

// Realtime metrics.
var (
	RealtimeConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claimsync_realtime_connections_active",
		Help: "Number of live realtime connections.",
	})

	RealtimeReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimsync_realtime_reconnects_total",
		Help: "Total number of realtime reconnect attempts.",
	})

	RealtimeDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimsync_realtime_duplicates_total",
		Help: "Total number of redelivered push events dropped by id.",
	})

	WSConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claimsync_ws_connections_active",
		Help: "Number of push websockets open on the dev server.",
	})

	WSMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimsync_ws_messages_total",
		Help: "Total number of WebSocket messages sent by the dev server.",
	})
)
