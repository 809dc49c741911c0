package zwave

import (
	"sort"

	"github.com/hearthbeam/hearth-core/internal/device"
)

// Z-Wave command class identifiers the driver understands.
const (
	ClassBinarySwitch     uint8 = 0x25 // COMMAND_CLASS_SWITCH_BINARY
	ClassMultilevelSwitch uint8 = 0x26 // COMMAND_CLASS_SWITCH_MULTILEVEL
	ClassMultilevelSensor uint8 = 0x31 // COMMAND_CLASS_SENSOR_MULTILEVEL
	ClassDoorLock         uint8 = 0x62 // COMMAND_CLASS_DOOR_LOCK
	ClassNotification     uint8 = 0x71 // COMMAND_CLASS_NOTIFICATION
)

// Device-type classifications inferred from command class sets.
const (
	TypeSwitch      = "switch"
	TypeDimmer      = "dimmer"
	TypeSensor      = "sensor"
	TypeDoorLock    = "door_lock"
	TypeAlarmSensor = "alarm_sensor"
	TypeUnknown     = "unknown"
)

var levelMin, levelMax = 0.0, 100.0

// InferCapabilities maps a node's supported command classes onto
// canonical capabilities. Deterministic: classes are sorted before the
// fixed table is applied.
func InferCapabilities(classes []uint8) []device.Capability {
	sorted := make([]uint8, len(classes))
	copy(sorted, classes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var caps []device.Capability
	seen := make(map[uint8]struct{}, len(sorted))
	for _, class := range sorted {
		if _, dup := seen[class]; dup {
			continue
		}
		seen[class] = struct{}{}

		switch class {
		case ClassBinarySwitch:
			caps = append(caps, device.Capability{
				Name: "power", Type: device.CapabilityBool,
				Readable: true, Writable: true,
			})
		case ClassMultilevelSwitch:
			caps = append(caps, device.Capability{
				Name: "level", Type: device.CapabilityNumber,
				Readable: true, Writable: true,
				Min: &levelMin, Max: &levelMax,
			})
		case ClassMultilevelSensor:
			caps = append(caps, device.Capability{
				Name: "sensor_value", Type: device.CapabilityNumber,
				Readable: true, Writable: false,
			})
		case ClassDoorLock:
			caps = append(caps, device.Capability{
				Name: "locked", Type: device.CapabilityBool,
				Readable: true, Writable: true,
			})
		case ClassNotification:
			caps = append(caps, device.Capability{
				Name: "alarm", Type: device.CapabilityBool,
				Readable: true, Writable: false,
			})
		}
	}
	return caps
}

// ClassifyDeviceType derives a best-effort device type from the command
// class set.
func ClassifyDeviceType(classes []uint8) string {
	has := make(map[uint8]struct{}, len(classes))
	for _, c := range classes {
		has[c] = struct{}{}
	}
	_, binary := has[ClassBinarySwitch]
	_, multilevel := has[ClassMultilevelSwitch]
	_, sensor := has[ClassMultilevelSensor]
	_, lock := has[ClassDoorLock]
	_, notification := has[ClassNotification]

	switch {
	case lock:
		return TypeDoorLock
	case multilevel:
		return TypeDimmer
	case binary:
		return TypeSwitch
	case notification:
		return TypeAlarmSensor
	case sensor:
		return TypeSensor
	default:
		return TypeUnknown
	}
}

// Z-Wave multilevel values run 0-99; canonical levels run 0-100.

// LevelToZWave converts a canonical level (0-100) to a Z-Wave
// multilevel value (0-99). Out-of-range inputs are clamped.
func LevelToZWave(level float64) uint8 {
	if level <= 0 {
		return 0
	}
	if level >= 100 {
		return 99
	}
	return uint8(level * 99 / 100)
}

// ZWaveToLevel converts a Z-Wave multilevel value (0-99) to a canonical
// level (0-100).
func ZWaveToLevel(value uint8) float64 {
	if value >= 99 {
		return 100
	}
	return float64(value) * 100 / 99
}
