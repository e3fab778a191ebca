// Package metrics defines the Prometheus metric set for the session and
// routing core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the pipeline. Queue depth
// gauges expose the back-pressure signal: the queues are unbounded by
// design, so sustained growth here is the operator's cue, not a throttle.
type Metrics struct {
	// Ingestion
	PacketsReceived  prometheus.Counter
	ParseErrors      prometheus.Counter
	IngestQueueDepth prometheus.Gauge

	// Routing
	LaneQueueDepth *prometheus.GaugeVec

	// Sessions
	ActiveSessions     prometheus.Gauge
	SessionsCreated    prometheus.Counter
	SessionsRemoved    prometheus.Counter
	AuthSuccesses      prometheus.Counter
	AuthFailures       *prometheus.CounterVec
	AuthDeadlineCloses prometheus.Counter
	SessionsEvicted    prometheus.Counter
	DroppedPreAuth     prometheus.Counter

	// Game dispatch
	GameMessages  prometheus.Counter
	HandlerErrors prometheus.Counter

	// Egress
	EgressQueueDepth prometheus.Gauge
	EgressSent       *prometheus.CounterVec
}

// New creates and registers all metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_packets_received_total",
			Help: "Total number of raw packets handed to the ingestion pipe",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_parse_errors_total",
			Help: "Total number of packets discarded because parsing failed",
		}),
		IngestQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_ingest_queue_depth",
			Help: "Current number of envelopes waiting for the router",
		}),
		LaneQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pulse_lane_queue_depth",
			Help: "Current number of envelopes waiting per worker lane",
		}, []string{"lane"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_active_sessions",
			Help: "Current number of live peer sessions across all lanes",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_sessions_created_total",
			Help: "Total number of peer sessions created",
		}),
		SessionsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_sessions_removed_total",
			Help: "Total number of peer sessions removed",
		}),
		AuthSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_auth_successes_total",
			Help: "Total number of handshakes that passed verification",
		}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_auth_failures_total",
			Help: "Total number of rejected handshakes by failure reason",
		}, []string{"reason"}),
		AuthDeadlineCloses: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_auth_deadline_closes_total",
			Help: "Total number of sessions closed for missing the auth deadline",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_sessions_evicted_total",
			Help: "Total number of sessions evicted by a duplicate wallet claim",
		}),
		DroppedPreAuth: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_dropped_pre_auth_total",
			Help: "Total number of non-handshake messages dropped before authentication",
		}),
		GameMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_game_messages_total",
			Help: "Total number of game messages dispatched for authenticated peers",
		}),
		HandlerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_handler_errors_total",
			Help: "Total number of per-message handling errors caught at the lane boundary",
		}),
		EgressQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_egress_queue_depth",
			Help: "Current number of outgoing envelopes waiting for the transport thread",
		}),
		EgressSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_egress_sent_total",
			Help: "Total number of outgoing envelopes sent by delivery mode",
		}, []string{"mode"}),
	}
}
