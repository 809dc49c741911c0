package device

import "fmt"

// CapabilityType is the value type a capability accepts and reports.
type CapabilityType string

// Capability value types.
const (
	CapabilityBool   CapabilityType = "bool"
	CapabilityNumber CapabilityType = "number"
	CapabilityEnum   CapabilityType = "enum"
	CapabilityString CapabilityType = "string"
)

// AllCapabilityTypes returns all valid capability type values.
func AllCapabilityTypes() []CapabilityType {
	return []CapabilityType{
		CapabilityBool, CapabilityNumber, CapabilityEnum, CapabilityString,
	}
}

// Capability describes one named, typed attribute a device exposes.
//
// Numeric capabilities may carry Min/Max bounds; enum capabilities carry
// the closed set of accepted values. Drivers produce these during
// discovery; the command engine validates every write against them
// before anything reaches hardware.
type Capability struct {
	Name       string         `json:"name"`
	Type       CapabilityType `json:"type"`
	Readable   bool           `json:"readable"`
	Writable   bool           `json:"writable"`
	Min        *float64       `json:"min,omitempty"`
	Max        *float64       `json:"max,omitempty"`
	EnumValues []string       `json:"enum_values,omitempty"`
}

// Validate checks a candidate value against the capability's type and
// constraints. Pure: no side effects, no I/O.
//
// Parameters:
//   - value: Candidate value, typically decoded from JSON (bool, float64,
//     int variants, or string)
//
// Returns:
//   - error: nil if the value is acceptable; otherwise an error wrapping
//     ErrCapabilityViolation that names the failed constraint
func (c Capability) Validate(value any) error {
	switch c.Type {
	case CapabilityBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: %q expects bool, got %T", ErrCapabilityViolation, c.Name, value)
		}
		return nil

	case CapabilityNumber:
		num, ok := toFloat64(value)
		if !ok {
			return fmt.Errorf("%w: %q expects number, got %T", ErrCapabilityViolation, c.Name, value)
		}
		if c.Min != nil && num < *c.Min {
			return fmt.Errorf("%w: %q value %v below minimum %v", ErrCapabilityViolation, c.Name, num, *c.Min)
		}
		if c.Max != nil && num > *c.Max {
			return fmt.Errorf("%w: %q value %v above maximum %v", ErrCapabilityViolation, c.Name, num, *c.Max)
		}
		return nil

	case CapabilityEnum:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %q expects enum string, got %T", ErrCapabilityViolation, c.Name, value)
		}
		for _, allowed := range c.EnumValues {
			if s == allowed {
				return nil
			}
		}
		return fmt.Errorf("%w: %q value %q not in enum %v", ErrCapabilityViolation, c.Name, s, c.EnumValues)

	case CapabilityString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: %q expects string, got %T", ErrCapabilityViolation, c.Name, value)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q has unknown type %q", ErrCapabilityViolation, c.Name, c.Type)
	}
}

// FindCapability returns the named capability from the device's list.
// Returns ErrCapabilityNotFound if the device does not expose it.
func (d *Device) FindCapability(name string) (Capability, error) {
	for _, c := range d.Capabilities {
		if c.Name == name {
			return c, nil
		}
	}
	return Capability{}, fmt.Errorf("%w: %q", ErrCapabilityNotFound, name)
}

// toFloat64 normalises the numeric types JSON decoding and Go callers
// produce into float64 for range checks.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
