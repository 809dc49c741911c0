// Package zwave implements the Z-Wave protocol driver.
//
// The controller is owned by an external bridge process; this driver
// talks to it over the MQTT transport on drivers/zwave/{node}/commands
// and .../responses, correlated by request ID.
//
// Capability inference is a fixed table over command class IDs: binary
// switch (0x25) yields a writable power bool, multilevel switch (0x26)
// a 0-100 level, multilevel sensor (0x31) a read-only number, door lock
// (0x62) a writable locked bool, and notification (0x71) a read-only
// alarm bool. Multilevel values are scaled between the canonical 0-100
// range and Z-Wave's 0-99 inside this package.
package zwave
