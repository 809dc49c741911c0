package driver

import "time"

// MQTT message envelopes for communication between the gateway core and
// protocol bridge processes (Zigbee and Z-Wave radios are attached to a
// bridge, not to the gateway process).

// Request operation types.
const (
	OpCommand = "command"
	OpRead    = "read"
	OpWrite   = "write"
	OpPair    = "pair"
	OpUnpair  = "unpair"
)

// Request is sent from core to bridge on drivers/{protocol}/{address}/commands.
type Request struct {
	// ID uniquely identifies this request for correlation with the response.
	ID string `json:"id"`

	// Timestamp is when the request was issued (UTC).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the gateway device identifier, when known.
	DeviceID string `json:"device_id,omitempty"`

	// Op is the operation type (command, read, write, pair, unpair).
	Op string `json:"op"`

	// Command is the command name for op "command".
	Command string `json:"command,omitempty"`

	// Parameters contains command parameters in protocol units.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Attribute names the target for op "read" and "write".
	Attribute string `json:"attribute,omitempty"`

	// Value is the payload for op "write".
	Value any `json:"value,omitempty"`
}

// Response is sent from bridge to core on drivers/{protocol}/{address}/responses.
type Response struct {
	// RequestID is the ID from the original request.
	RequestID string `json:"request_id"`

	// Timestamp is when the response was sent (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Success indicates whether the operation reached the device.
	Success bool `json:"success"`

	// State contains confirmed attribute values in protocol units.
	State map[string]any `json:"state,omitempty"`

	// Value is the result of op "read".
	Value any `json:"value,omitempty"`

	// Error describes the failure when Success is false.
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError carries failure details from a bridge.
type ResponseError struct {
	// Code is a stable error code (e.g. "DEVICE_UNREACHABLE").
	Code string `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// Bridge error codes.
const (
	CodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	CodeInvalidCommand    = "INVALID_COMMAND"
	CodeAttributeUnknown  = "ATTRIBUTE_UNKNOWN"
	CodeProtocolError     = "PROTOCOL_ERROR"
)

// Event is published by a bridge on drivers/{protocol}/{address}/events
// for unsolicited reports: interview results during discovery, value
// notifications, reachability changes.
type Event struct {
	// Type is the event kind (e.g. "interview", "value_report", "availability").
	Type string `json:"type"`

	// Timestamp is when the event was observed (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Data carries event-specific fields.
	Data map[string]any `json:"data,omitempty"`
}
