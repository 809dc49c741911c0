package influxdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// WriteStateChange records a device state transition as a time-series point.
//
// Each changed attribute becomes a field on a single "device_state" point,
// tagged with the device identity and the source of the change so that
// driver-reported updates can be distinguished from command confirmations.
//
// Parameters:
//   - deviceID: Device UUID
//   - protocol: Protocol name (zigbee, zwave, http)
//   - homeID: Home the device belongs to
//   - source: Origin of the change ("driver", "command", "api")
//   - fields: Changed attribute values (numeric, boolean, or string)
//
// Returns:
//   - error: ErrNotConnected if the client is closed; writes themselves
//     are async and report failures via the SetOnError callback
func (c *Client) WriteStateChange(deviceID, protocol, homeID, source string, fields map[string]interface{}) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(fields) == 0 {
		return nil
	}

	point := influxdb2.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
			"protocol":  protocol,
			"home_id":   homeID,
			"source":    source,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
	return nil
}

// WriteDeviceMetric records a single named metric for a device.
//
// Used for scalar telemetry that is not part of the capability state,
// such as link quality or battery level reported by a driver.
func (c *Client) WriteDeviceMetric(deviceID, protocol, metric string, value float64) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := influxdb2.NewPoint(
		"device_metric",
		map[string]string{
			"device_id": deviceID,
			"protocol":  protocol,
			"metric":    metric,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
	return nil
}

// WriteCommandResult records the outcome of a command execution.
//
// Tagged by terminal status so completion and failure rates can be
// graphed per device without joining against the relational store.
func (c *Client) WriteCommandResult(deviceID, command, status string, durationMs int64, retries int) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point := influxdb2.NewPoint(
		"command_result",
		map[string]string{
			"device_id": deviceID,
			"command":   command,
			"status":    status,
		},
		map[string]interface{}{
			"duration_ms": durationMs,
			"retries":     retries,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
	return nil
}
