// Package influxdb provides time-series persistence for device state
// changes, device metrics, and command outcomes.
//
// The client wraps the official InfluxDB v2 Go client with batched,
// non-blocking writes. Write failures surface asynchronously through a
// configurable error callback rather than blocking the callers on the
// hot state-change path.
//
// InfluxDB is optional: when disabled in configuration, Connect returns
// ErrDisabled and the gateway runs without time-series history.
package influxdb
