// Package driver defines the protocol driver abstraction that
// normalises vendor wire formats into the canonical capability model.
//
// One Driver implementation exists per protocol (zigbee, zwave, http),
// selected at runtime by a Registry keyed on the device's protocol
// identifier. Drivers translate between canonical capability units
// (brightness 0-100, colour temperature in Kelvin) and protocol units
// (Zigbee level 0-254, mireds, Z-Wave 0-99), so nothing above the
// driver layer ever sees protocol units.
//
// Zigbee and Z-Wave radios are attached to an external bridge process;
// those drivers talk to their bridge over the MQTT transport using the
// request/response envelopes in messages.go, correlated by request ID
// through an Exchanger. The HTTP driver talks to devices directly.
//
// Unsolicited device reports do not flow through drivers: bridges
// publish them to devices/{id}/state and devices/{id}/events, where the
// gateway's state pipeline picks them up.
package driver
