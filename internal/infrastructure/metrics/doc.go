// Package metrics defines the Prometheus collectors exported by the
// gateway: command throughput and latency, per-device queue depth,
// WebSocket session counts, and MQTT connection health.
//
// Collectors are created once at startup with New and injected into the
// subsystems that record observations. The HTTP API exposes them on
// /metrics via the standard promhttp handler.
package metrics
