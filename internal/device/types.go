package device

import "time"

// Device represents a paired or discovered piece of hardware exposed
// through the canonical capability model.
// This matches the database schema in migrations/20260201_120000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Protocol information
	Protocol Protocol `json:"protocol"`
	Address  Address  `json:"address"`

	// Ownership. Immutable after creation: updates that change either
	// field are rejected.
	HomeID string `json:"home_id"`
	UserID string `json:"user_id"`

	// Capabilities describe which attributes the device exposes and the
	// constraints commands against them must satisfy.
	Capabilities []Capability `json:"capabilities"`

	// Current state snapshot. StateVersion strictly increases on every
	// accepted write; stale writes are rejected by the registry.
	State          State      `json:"state"`
	StateVersion   int64      `json:"state_version"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	// Reachability
	Online bool `json:"online"`
	Paired bool `json:"paired"`

	// Metadata
	Manufacturer    *string `json:"manufacturer,omitempty"`
	Model           *string `json:"model,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	cpy.Address = deepCopyMap(d.Address)
	cpy.State = deepCopyMap(d.State)

	if d.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(d.Capabilities))
		for i, c := range d.Capabilities {
			cpy.Capabilities[i] = c
			if c.EnumValues != nil {
				cpy.Capabilities[i].EnumValues = make([]string, len(c.EnumValues))
				copy(cpy.Capabilities[i].EnumValues, c.EnumValues)
			}
		}
	}

	// Pointer fields (*string, *time.Time, *float64) don't need deep copy
	// because strings, floats and time.Time are immutable by value here

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// Address holds protocol-specific addressing as a JSON map.
//
// Examples:
//
//	Zigbee: {"ieee_address": "0x00124b0022aa11ff", "network_address": 42913}
//	Z-Wave: {"node_id": 14, "home_id": "0xD8A4F112"}
//	HTTP:   {"base_url": "http://192.168.1.50:8080"}
type Address map[string]any

// State holds the current attribute snapshot as a JSON map.
//
// Examples:
//   - Light: {"power": true, "brightness": 75}
//   - Lock: {"locked": true, "battery": 88}
//   - Sensor: {"temperature": 21.5, "contact": false}
type State map[string]any

// Protocol identifies the wire protocol a device speaks.
type Protocol string

// Protocol constants.
const (
	ProtocolZigbee Protocol = "zigbee"
	ProtocolZWave  Protocol = "zwave"
	ProtocolHTTP   Protocol = "http"
)

// AllProtocols returns all valid protocol values.
func AllProtocols() []Protocol {
	return []Protocol{ProtocolZigbee, ProtocolZWave, ProtocolHTTP}
}

// StateChange describes an accepted state write, as delivered to the
// fanout hub and persistence sinks.
type StateChange struct {
	DeviceID  string    `json:"device_id"`
	HomeID    string    `json:"home_id"`
	UserID    string    `json:"user_id"`
	Protocol  Protocol  `json:"protocol"`
	Delta     State     `json:"delta"`
	Version   int64     `json:"version"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}
