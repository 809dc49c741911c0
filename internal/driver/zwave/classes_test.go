package zwave

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthbeam/hearth-core/internal/device"
)

func capabilityNames(caps []device.Capability) []string {
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = c.Name
	}
	return names
}

func TestInferCapabilities(t *testing.T) {
	tests := []struct {
		name    string
		classes []uint8
		want    []string
	}{
		{
			name:    "dimmer",
			classes: []uint8{ClassBinarySwitch, ClassMultilevelSwitch},
			want:    []string{"power", "level"},
		},
		{
			name:    "door lock with alarm",
			classes: []uint8{ClassDoorLock, ClassNotification},
			want:    []string{"locked", "alarm"},
		},
		{
			name:    "multilevel sensor",
			classes: []uint8{ClassMultilevelSensor},
			want:    []string{"sensor_value"},
		},
		{
			name:    "unknown classes ignored",
			classes: []uint8{0x20, 0x72, ClassBinarySwitch},
			want:    []string{"power"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, capabilityNames(InferCapabilities(tt.classes)))
		})
	}
}

func TestInferCapabilitiesDeterministic(t *testing.T) {
	a := InferCapabilities([]uint8{ClassDoorLock, ClassBinarySwitch, ClassNotification})
	b := InferCapabilities([]uint8{ClassNotification, ClassDoorLock, ClassBinarySwitch})
	assert.Equal(t, a, b)
}

func TestClassifyDeviceType(t *testing.T) {
	tests := []struct {
		name    string
		classes []uint8
		want    string
	}{
		{"lock wins over switch", []uint8{ClassDoorLock, ClassBinarySwitch}, TypeDoorLock},
		{"dimmer", []uint8{ClassBinarySwitch, ClassMultilevelSwitch}, TypeDimmer},
		{"plain switch", []uint8{ClassBinarySwitch}, TypeSwitch},
		{"alarm sensor", []uint8{ClassNotification}, TypeAlarmSensor},
		{"sensor", []uint8{ClassMultilevelSensor}, TypeSensor},
		{"unknown", []uint8{0x72}, TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyDeviceType(tt.classes))
		})
	}
}

func TestLevelScaling(t *testing.T) {
	assert.Equal(t, uint8(0), LevelToZWave(0))
	assert.Equal(t, uint8(99), LevelToZWave(100))
	assert.Equal(t, uint8(49), LevelToZWave(50))
	assert.Equal(t, uint8(0), LevelToZWave(-10))
	assert.Equal(t, uint8(99), LevelToZWave(250))

	assert.Equal(t, 0.0, ZWaveToLevel(0))
	assert.Equal(t, 100.0, ZWaveToLevel(99))
	assert.InDelta(t, 50.0, ZWaveToLevel(49), 1.0)
}

func TestLevelRoundTrip(t *testing.T) {
	// Round-tripping must stay within one step's worth of level.
	for l := 0.0; l <= 100; l++ {
		back := ZWaveToLevel(LevelToZWave(l))
		assert.InDelta(t, l, back, 1.1, "level %v", l)
	}
}
