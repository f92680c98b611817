package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var Metrics = struct {
	ConnectAttempts  *prometheus.CounterVec
	Retries          prometheus.Counter
	RetriesExhausted prometheus.Counter
	MessagesReceived prometheus.Counter
	DecodeFailures   prometheus.Counter
	Sends            *prometheus.CounterVec
	TransportErrors  prometheus.Counter
	ChannelState     *prometheus.GaugeVec
	RelayClients     prometheus.Gauge
	RelayDropped     prometheus.Counter
	AlertsForwarded  *prometheus.CounterVec
	EventsStored     prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	JobRuns          *prometheus.CounterVec
	RowsPruned       *prometheus.CounterVec
	WebhooksReceived *prometheus.CounterVec
}{
	ConnectAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "live_connect_attempts_total",
		Help:      "Live channel connection attempts by trigger (manual/retry).",
	}, []string{"trigger"}),

	Retries: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "live_retries_total",
		Help:      "Reconnects scheduled after an unexpected disconnect.",
	}),

	RetriesExhausted: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "live_retries_exhausted_total",
		Help:      "Times the live channel gave up after reaching its retry budget.",
	}),

	MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "live_messages_received_total",
		Help:      "Inbound live messages decoded successfully.",
	}),

	DecodeFailures: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "live_decode_failures_total",
		Help:      "Inbound live messages that were not valid JSON.",
	}),

	Sends: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "live_sends_total",
		Help:      "Outbound live messages by status (ok/rejected/error).",
	}, []string{"status"}),

	TransportErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "live_transport_errors_total",
		Help:      "Transport error reactions reported by the live channel.",
	}),

	ChannelState: promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tourwatch",
		Name:      "live_channel_state",
		Help:      "1 for the current live channel state, 0 otherwise.",
	}, []string{"endpoint", "state"}),

	RelayClients: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tourwatch",
		Name:      "relay_clients",
		Help:      "Number of dashboard WebSocket clients attached to the relay.",
	}),

	RelayDropped: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "relay_dropped_total",
		Help:      "Messages dropped because a dashboard client was too slow.",
	}),

	AlertsForwarded: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "alerts_forwarded_total",
		Help:      "Alerts forwarded by notifier and status.",
	}, []string{"notifier", "status"}),

	EventsStored: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "events_stored_total",
		Help:      "Live messages persisted to the event store.",
	}),

	HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "http_requests_total",
		Help:      "Local API requests by route and status code.",
	}, []string{"route", "code"}),

	JobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "scheduler_job_runs_total",
		Help:      "Scheduled job runs by job and status.",
	}, []string{"job", "status"}),

	RowsPruned: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "retention_rows_pruned_total",
		Help:      "Rows removed by retention pruning, by table.",
	}, []string{"table"}),

	WebhooksReceived: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tourwatch",
		Name:      "webhooks_received_total",
		Help:      "Inbound webhooks by outcome.",
	}, []string{"outcome"}),
}
