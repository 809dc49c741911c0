package driver

import (
	"fmt"

	"github.com/hearthbeam/hearth-core/internal/device"
)

// Registry resolves devices to their protocol driver.
//
// Drivers are registered once at startup by the composition root; the
// map is read-only afterwards, so lookups need no locking.
type Registry struct {
	drivers map[device.Protocol]Driver
}

// NewRegistry creates a driver registry from the given drivers.
//
// Parameters:
//   - drivers: One driver per protocol; duplicates are an error
//
// Returns:
//   - *Registry: Registry ready for lookups
//   - error: ErrDriverExists if two drivers claim the same protocol
func NewRegistry(drivers ...Driver) (*Registry, error) {
	m := make(map[device.Protocol]Driver, len(drivers))
	for _, d := range drivers {
		p := d.Protocol()
		if _, dup := m[p]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDriverExists, p)
		}
		m[p] = d
	}
	return &Registry{drivers: m}, nil
}

// ForProtocol returns the driver for a protocol.
// Returns ErrDriverNotFound if none is registered.
func (r *Registry) ForProtocol(p device.Protocol) (Driver, error) {
	d, ok := r.drivers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDriverNotFound, p)
	}
	return d, nil
}

// ForDevice returns the driver serving the given device's protocol.
func (r *Registry) ForDevice(d *device.Device) (Driver, error) {
	return r.ForProtocol(d.Protocol)
}

// Protocols returns the protocols with a registered driver.
func (r *Registry) Protocols() []device.Protocol {
	out := make([]device.Protocol, 0, len(r.drivers))
	for p := range r.drivers {
		out = append(out, p)
	}
	return out
}
