// Package zigbee implements the Zigbee protocol driver.
//
// The radio is owned by an external bridge process; this driver talks
// to it over the MQTT transport on drivers/zigbee/{address}/commands
// and .../responses, correlated by request ID.
//
// Capability inference is a fixed table over ZCL cluster IDs: genOnOff
// yields a writable power bool, genLevelCtrl a 0-100 brightness,
// lightingColorCtrl a colour temperature in Kelvin, temperature
// measurement a read-only number, and IAS zone a read-only contact
// bool. Unit conversion between canonical and ZCL values (level 0-254,
// mireds) happens entirely inside this package.
package zigbee
