package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
var (
	// ErrDisabled indicates InfluxDB is disabled in configuration.
	ErrDisabled = errors.New("influxdb is disabled")

	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("influxdb client not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb connection failed")

	// ErrWriteFailed indicates a write operation failed.
	ErrWriteFailed = errors.New("influxdb write failed")
)
