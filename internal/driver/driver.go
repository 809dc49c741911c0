package driver

import (
	"context"

	"github.com/hearthbeam/hearth-core/internal/device"
)

// Driver is the interface every protocol implementation provides.
//
// A driver owns its protocol-specific hardware or network handles
// exclusively. Callers must not invoke non-reentrant operations
// concurrently for the same device; the command engine guarantees this
// by serialising execution per device.
type Driver interface {
	// Protocol returns the protocol identifier this driver serves.
	Protocol() device.Protocol

	// Discover scans the medium for a bounded, driver-defined window and
	// returns candidate devices with inferred capabilities and a
	// best-effort device-type classification.
	//
	// Inference is deterministic: the same vendor model and supported
	// feature set always yields the same capability list.
	Discover(ctx context.Context) ([]PartialDevice, error)

	// Pair establishes a persistent association with a discovered device.
	Pair(ctx context.Context, d *device.Device) error

	// Unpair removes the association. The device remains in the registry
	// until deleted, but commands against it fail the pairing precondition.
	Unpair(ctx context.Context, d *device.Device) error

	// SendCommand executes a named command against a device and returns
	// the confirmed attribute changes. The context carries the engine's
	// execution deadline.
	SendCommand(ctx context.Context, d *device.Device, command string, params map[string]any) (Result, error)

	// ReadAttribute reads a single raw attribute value.
	// Low-level escape hatch for capability discovery and diagnostics.
	ReadAttribute(ctx context.Context, d *device.Device, attribute string) (any, error)

	// WriteAttribute writes a single raw attribute value.
	WriteAttribute(ctx context.Context, d *device.Device, attribute string, value any) error
}

// PartialDevice is a discovery candidate: enough to present to a user
// for pairing, not yet a registered device.
type PartialDevice struct {
	Protocol     device.Protocol     `json:"protocol"`
	Address      device.Address      `json:"address"`
	Name         string              `json:"name"`
	DeviceType   string              `json:"device_type"`
	Manufacturer string              `json:"manufacturer,omitempty"`
	Model        string              `json:"model,omitempty"`
	Capabilities []device.Capability `json:"capabilities"`
}

// Result carries the outcome of a successful command execution.
type Result struct {
	// State holds the attribute values the device confirmed, in
	// canonical capability units.
	State device.State `json:"state"`
}
