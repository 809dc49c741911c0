package driver

import "errors"

// Domain errors for the driver package.
var (
	// ErrDriverNotFound is returned when no driver is registered for a protocol.
	ErrDriverNotFound = errors.New("driver: no driver for protocol")

	// ErrDriverExists is returned when registering a second driver for a protocol.
	ErrDriverExists = errors.New("driver: protocol already registered")

	// ErrUnsupportedCommand is returned when a device's driver cannot map
	// a command name onto the device's feature set.
	ErrUnsupportedCommand = errors.New("driver: unsupported command")

	// ErrAttributeNotFound is returned when a raw attribute read or write
	// names an attribute the device does not expose.
	ErrAttributeNotFound = errors.New("driver: attribute not found")

	// ErrResponseTimeout is returned when the bridge does not answer a
	// request within the configured deadline.
	ErrResponseTimeout = errors.New("driver: response timeout")

	// ErrDeviceUnreachable is returned when the device did not answer at
	// the protocol level.
	ErrDeviceUnreachable = errors.New("driver: device unreachable")

	// ErrMalformedResponse is returned when a bridge response cannot be decoded.
	ErrMalformedResponse = errors.New("driver: malformed response")

	// ErrDiscoveryFailed is returned when a discovery window could not be opened.
	ErrDiscoveryFailed = errors.New("driver: discovery failed")
)
