package zigbee

import (
	"sort"

	"github.com/hearthbeam/hearth-core/internal/device"
)

// ZCL cluster identifiers the driver understands.
const (
	ClusterOnOff       uint16 = 0x0006 // genOnOff
	ClusterLevelCtrl   uint16 = 0x0008 // genLevelCtrl
	ClusterColorCtrl   uint16 = 0x0300 // lightingColorCtrl
	ClusterTemperature uint16 = 0x0402 // msTemperatureMeasurement
	ClusterIASZone     uint16 = 0x0500 // ssIasZone
)

// Device-type classifications inferred from cluster sets.
const (
	TypeLight         = "light"
	TypeDimmableLight = "dimmable_light"
	TypeColorLight    = "color_light"
	TypeSensor        = "sensor"
	TypeContactSensor = "contact_sensor"
	TypeSwitch        = "switch"
	TypeUnknown       = "unknown"
)

// Canonical capability bounds.
var (
	brightnessMin = 0.0
	brightnessMax = 100.0
	colorTempMin  = 2000.0
	colorTempMax  = 6500.0
)

// InferCapabilities maps a device's supported clusters onto canonical
// capabilities. Deterministic: the clusters are sorted before the fixed
// table is applied, so the same cluster set always yields the same list
// in the same order.
func InferCapabilities(clusters []uint16) []device.Capability {
	sorted := make([]uint16, len(clusters))
	copy(sorted, clusters)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var caps []device.Capability
	seen := make(map[uint16]struct{}, len(sorted))
	for _, cluster := range sorted {
		if _, dup := seen[cluster]; dup {
			continue
		}
		seen[cluster] = struct{}{}

		switch cluster {
		case ClusterOnOff:
			caps = append(caps, device.Capability{
				Name: "power", Type: device.CapabilityBool,
				Readable: true, Writable: true,
			})
		case ClusterLevelCtrl:
			caps = append(caps, device.Capability{
				Name: "brightness", Type: device.CapabilityNumber,
				Readable: true, Writable: true,
				Min: &brightnessMin, Max: &brightnessMax,
			})
		case ClusterColorCtrl:
			caps = append(caps, device.Capability{
				Name: "color_temperature", Type: device.CapabilityNumber,
				Readable: true, Writable: true,
				Min: &colorTempMin, Max: &colorTempMax,
			})
		case ClusterTemperature:
			caps = append(caps, device.Capability{
				Name: "temperature", Type: device.CapabilityNumber,
				Readable: true, Writable: false,
			})
		case ClusterIASZone:
			caps = append(caps, device.Capability{
				Name: "contact", Type: device.CapabilityBool,
				Readable: true, Writable: false,
			})
		}
	}
	return caps
}

// ClassifyDeviceType derives a best-effort device type from the cluster set.
func ClassifyDeviceType(clusters []uint16) string {
	has := make(map[uint16]struct{}, len(clusters))
	for _, c := range clusters {
		has[c] = struct{}{}
	}
	_, onOff := has[ClusterOnOff]
	_, level := has[ClusterLevelCtrl]
	_, color := has[ClusterColorCtrl]
	_, temp := has[ClusterTemperature]
	_, ias := has[ClusterIASZone]

	switch {
	case color && level:
		return TypeColorLight
	case level && onOff:
		return TypeDimmableLight
	case onOff && !temp && !ias:
		return TypeSwitch
	case ias:
		return TypeContactSensor
	case temp:
		return TypeSensor
	case onOff:
		return TypeLight
	default:
		return TypeUnknown
	}
}
