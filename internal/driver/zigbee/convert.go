package zigbee

import "math"

// Unit conversions between canonical capability units and ZCL units.
//
// Brightness is canonical 0-100, ZCL level is 0-254. Colour temperature
// is canonical Kelvin, ZCL uses mireds (micro reciprocal degrees).

const (
	maxLevel       = 254
	miredsPerMegaK = 1_000_000
)

// BrightnessToLevel converts canonical brightness (0-100) to a ZCL
// level (0-254), rounding to the nearest step. Out-of-range inputs are
// clamped.
func BrightnessToLevel(brightness float64) uint8 {
	if brightness <= 0 {
		return 0
	}
	if brightness >= 100 {
		return maxLevel
	}
	return uint8(math.Round(brightness / 100 * maxLevel))
}

// LevelToBrightness converts a ZCL level (0-254) to canonical
// brightness (0-100).
func LevelToBrightness(level uint8) float64 {
	return math.Round(float64(level)/maxLevel*100*10) / 10
}

// KelvinToMireds converts a colour temperature in Kelvin to mireds.
// Kelvin values below 1 are treated as 1 to avoid division by zero.
func KelvinToMireds(kelvin float64) int {
	if kelvin < 1 {
		kelvin = 1
	}
	return int(math.Round(miredsPerMegaK / kelvin))
}

// MiredsToKelvin converts mireds to a colour temperature in Kelvin.
func MiredsToKelvin(mireds int) float64 {
	if mireds < 1 {
		mireds = 1
	}
	return math.Round(miredsPerMegaK / float64(mireds))
}
