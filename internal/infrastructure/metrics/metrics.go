package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors exported by the gateway.
//
// A single instance is created at startup and shared by the command
// engine, the fanout hub, and the MQTT client. All collectors are safe
// for concurrent use.
type Metrics struct {
	CommandsSubmitted *prometheus.CounterVec
	CommandsCompleted *prometheus.CounterVec
	CommandsFailed    *prometheus.CounterVec
	CommandsRetried   *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec

	QueueDepth *prometheus.GaugeVec

	SessionsConnected prometheus.Gauge
	PushesDelivered   prometheus.Counter

	MQTTReconnects prometheus.Counter
	MQTTConnected  prometheus.Gauge

	DevicesOnline *prometheus.GaugeVec
}

// New creates and registers all gateway collectors with the given registerer.
//
// Parameters:
//   - reg: Registry to register collectors with (prometheus.DefaultRegisterer
//     in production, a fresh registry in tests)
//
// Returns:
//   - *Metrics: Registered collector set
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_commands_submitted_total",
				Help: "Commands accepted into the delivery queue.",
			},
			[]string{"protocol"}),
		CommandsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_commands_completed_total",
				Help: "Commands that reached the completed state.",
			},
			[]string{"protocol"}),
		CommandsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_commands_failed_total",
				Help: "Commands that reached the failed state.",
			},
			[]string{"protocol", "reason"}),
		CommandsRetried: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hearth_commands_retried_total",
				Help: "Command retry attempts.",
			},
			[]string{"protocol"}),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hearth_command_duration_seconds",
				Help:    "Wall time from dispatch to terminal state.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"protocol"}),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hearth_command_queue_depth",
				Help: "Pending commands per device queue.",
			},
			[]string{"device_id"}),
		SessionsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hearth_fanout_sessions",
				Help: "Currently connected WebSocket sessions.",
			}),
		PushesDelivered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_fanout_pushes_total",
				Help: "State pushes delivered to WebSocket sessions.",
			}),
		MQTTReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hearth_mqtt_reconnects_total",
				Help: "MQTT reconnection attempts.",
			}),
		MQTTConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hearth_mqtt_connected",
				Help: "Whether the MQTT client is currently connected (0 or 1).",
			}),
		DevicesOnline: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hearth_devices_online",
				Help: "Online devices per protocol.",
			},
			[]string{"protocol"}),
	}

	reg.MustRegister(
		m.CommandsSubmitted,
		m.CommandsCompleted,
		m.CommandsFailed,
		m.CommandsRetried,
		m.CommandDuration,
		m.QueueDepth,
		m.SessionsConnected,
		m.PushesDelivered,
		m.MQTTReconnects,
		m.MQTTConnected,
		m.DevicesOnline,
	)

	return m
}
