package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidProtocol is returned when a protocol value is not recognised.
	ErrInvalidProtocol = errors.New("device: invalid protocol")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidAddress is returned when address validation fails.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidOwnership is returned when home or user ownership is missing.
	ErrInvalidOwnership = errors.New("device: invalid ownership")

	// ErrOwnershipImmutable is returned when an update attempts to change
	// a device's home or user after creation.
	ErrOwnershipImmutable = errors.New("device: ownership is immutable")

	// ErrInvalidCapability is returned when a capability descriptor is malformed.
	ErrInvalidCapability = errors.New("device: invalid capability")

	// ErrCapabilityNotFound is returned when a device does not expose a
	// named capability.
	ErrCapabilityNotFound = errors.New("device: capability not found")

	// ErrCapabilityViolation is returned when a value fails a capability's
	// type, range, or enum constraints.
	ErrCapabilityViolation = errors.New("device: capability violation")

	// ErrCapabilityNotWritable is returned when a command targets a
	// read-only capability.
	ErrCapabilityNotWritable = errors.New("device: capability not writable")

	// ErrStaleState is returned when a versioned state write carries a
	// version not greater than the recorded one.
	ErrStaleState = errors.New("device: stale state version")
)
