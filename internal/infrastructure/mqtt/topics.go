package mqtt

import "fmt"

// Topic prefixes for the Hearth wire contract.
//
// Device topics carry canonical, protocol-independent traffic addressed by
// device ID. Driver topics carry protocol-native traffic between the
// gateway and the per-protocol bridge processes, addressed by protocol and
// bridge/device address. Home topics carry home-scoped broadcasts.
const (
	// TopicPrefixDevices is the base for canonical device topics.
	TopicPrefixDevices = "devices"

	// TopicPrefixDrivers is the base for protocol bridge topics.
	TopicPrefixDrivers = "drivers"

	// TopicPrefixHomes is the base for home-scoped broadcast topics.
	TopicPrefixHomes = "homes"

	// TopicPrefixSystem is the base for gateway system topics.
	TopicPrefixSystem = "hearth/system"
)

// Topics provides builders for Hearth MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase;
// the scheme is the wire contract between driver processes and the engine.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommands("light-living-main")
//	// Returns: "devices/light-living-main/commands"
type Topics struct{}

// =============================================================================
// Device Topics (canonical, device-ID addressed)
// =============================================================================

// DeviceCommands returns the topic for commands addressed to a device.
//
// Example: devices/light-living-main/commands
func (Topics) DeviceCommands(deviceID string) string {
	return fmt.Sprintf("%s/%s/commands", TopicPrefixDevices, deviceID)
}

// DeviceState returns the topic for canonical device state updates.
//
// Example: devices/light-living-main/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevices, deviceID)
}

// DeviceEvents returns the topic for asynchronous device events
// (joined/left, link quality, attribute reports).
//
// Example: devices/light-living-main/events
func (Topics) DeviceEvents(deviceID string) string {
	return fmt.Sprintf("%s/%s/events", TopicPrefixDevices, deviceID)
}

// DeviceResponses returns the topic for command results for a device.
//
// Example: devices/light-living-main/responses
func (Topics) DeviceResponses(deviceID string) string {
	return fmt.Sprintf("%s/%s/responses", TopicPrefixDevices, deviceID)
}

// =============================================================================
// Driver Topics (protocol bridge addressed)
// =============================================================================

// DriverCommands returns the topic for protocol-native commands to a bridge.
//
// Example: drivers/zigbee/0x00124b0022a1/commands
func (Topics) DriverCommands(protocol, id string) string {
	return fmt.Sprintf("%s/%s/%s/commands", TopicPrefixDrivers, protocol, id)
}

// DriverResponses returns the topic for protocol-native responses from a bridge.
//
// Example: drivers/zigbee/0x00124b0022a1/responses
func (Topics) DriverResponses(protocol, id string) string {
	return fmt.Sprintf("%s/%s/%s/responses", TopicPrefixDrivers, protocol, id)
}

// DriverEvents returns the topic for unsolicited bridge events
// (interview results, join/leave notifications).
//
// Example: drivers/zigbee/zigbee-bridge/events
func (Topics) DriverEvents(protocol, id string) string {
	return fmt.Sprintf("%s/%s/%s/events", TopicPrefixDrivers, protocol, id)
}

// =============================================================================
// Home Topics
// =============================================================================

// HomeBroadcast returns the broadcast topic for a home scope.
//
// Example: homes/home-abc/broadcast
func (Topics) HomeBroadcast(homeID string) string {
	return fmt.Sprintf("%s/%s/broadcast", TopicPrefixHomes, homeID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the gateway status topic (online/offline, LWT).
//
// Example: hearth/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceStates returns a pattern matching all canonical device states.
//
// Pattern: devices/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixDevices)
}

// AllDeviceEvents returns a pattern matching all device events.
//
// Pattern: devices/+/events
func (Topics) AllDeviceEvents() string {
	return fmt.Sprintf("%s/+/events", TopicPrefixDevices)
}

// AllDeviceResponses returns a pattern matching all command results.
//
// Pattern: devices/+/responses
func (Topics) AllDeviceResponses() string {
	return fmt.Sprintf("%s/+/responses", TopicPrefixDevices)
}

// AllDriverResponses returns a pattern matching all responses for a protocol.
//
// Pattern: drivers/{protocol}/+/responses
func (Topics) AllDriverResponses(protocol string) string {
	return fmt.Sprintf("%s/%s/+/responses", TopicPrefixDrivers, protocol)
}

// AllDriverEvents returns a pattern matching all events for a protocol.
//
// Pattern: drivers/{protocol}/+/events
func (Topics) AllDriverEvents(protocol string) string {
	return fmt.Sprintf("%s/%s/+/events", TopicPrefixDrivers, protocol)
}

// AllDeviceTopics returns a pattern matching all device traffic.
// Use with caution - this receives ALL canonical traffic.
//
// Pattern: devices/#
func (Topics) AllDeviceTopics() string {
	return TopicPrefixDevices + "/#"
}
