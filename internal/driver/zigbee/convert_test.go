package zigbee

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBrightnessToLevel(t *testing.T) {
	tests := []struct {
		brightness float64
		want       uint8
	}{
		{0, 0},
		{100, 254},
		{50, 127},
		{1, 3},
		{-5, 0},    // clamped
		{150, 254}, // clamped
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BrightnessToLevel(tt.brightness),
			"brightness %v", tt.brightness)
	}
}

func TestLevelToBrightness(t *testing.T) {
	assert.Equal(t, 0.0, LevelToBrightness(0))
	assert.Equal(t, 100.0, LevelToBrightness(254))
	assert.Equal(t, 50.0, LevelToBrightness(127))
}

func TestBrightnessRoundTrip(t *testing.T) {
	// Round-tripping must stay within one level's worth of brightness.
	for b := 0.0; b <= 100; b++ {
		back := LevelToBrightness(BrightnessToLevel(b))
		assert.InDelta(t, b, back, 0.5, "brightness %v", b)
	}
}

func TestKelvinMiredsConversion(t *testing.T) {
	assert.Equal(t, 370, KelvinToMireds(2700))  // warm white
	assert.Equal(t, 250, KelvinToMireds(4000))  // neutral
	assert.Equal(t, 154, KelvinToMireds(6500))  // daylight
	assert.Equal(t, 2703.0, MiredsToKelvin(370))
	assert.Equal(t, 4000.0, MiredsToKelvin(250))

	// Degenerate inputs must not divide by zero.
	assert.Equal(t, 1_000_000, KelvinToMireds(0))
	assert.Equal(t, 1_000_000.0, MiredsToKelvin(0))
}
