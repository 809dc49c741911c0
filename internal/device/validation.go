package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100

	// Size limits for JSON fields to prevent DoS via memory exhaustion.
	maxAddressKeys    = 20
	maxStateKeys      = 100
	maxCapabilities   = 64
	maxEnumValues     = 32
	maxStringValueLen = 1024
)

// Pre-computed validation sets for O(1) lookups.
var (
	validProtocols       map[Protocol]struct{}
	validCapabilityTypes map[CapabilityType]struct{}
)

func init() {
	validProtocols = make(map[Protocol]struct{}, len(AllProtocols()))
	for _, p := range AllProtocols() {
		validProtocols[p] = struct{}{}
	}

	validCapabilityTypes = make(map[CapabilityType]struct{}, len(AllCapabilityTypes()))
	for _, t := range AllCapabilityTypes() {
		validCapabilityTypes[t] = struct{}{}
	}
}

// ValidateDevice performs comprehensive validation on a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	if err := ValidateProtocol(d.Protocol); err != nil {
		return err
	}

	if err := ValidateAddress(d.Address); err != nil {
		return err
	}

	if strings.TrimSpace(d.HomeID) == "" {
		return fmt.Errorf("%w: home_id is required", ErrInvalidOwnership)
	}
	if strings.TrimSpace(d.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidOwnership)
	}

	if len(d.Capabilities) > maxCapabilities {
		return fmt.Errorf("%w: too many capabilities (%d, max %d)",
			ErrInvalidCapability, len(d.Capabilities), maxCapabilities)
	}
	seen := make(map[string]struct{}, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if err := ValidateCapability(c); err != nil {
			return err
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: duplicate capability %q", ErrInvalidCapability, c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	if len(d.State) > maxStateKeys {
		return fmt.Errorf("%w: too many state keys (%d, max %d)",
			ErrInvalidDevice, len(d.State), maxStateKeys)
	}

	return nil
}

// ValidateName checks a device name is non-empty and within bounds.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateProtocol checks a protocol value is recognised.
func ValidateProtocol(p Protocol) error {
	if _, ok := validProtocols[p]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, p)
	}
	return nil
}

// ValidateAddress checks the protocol address map is present and bounded.
func ValidateAddress(addr Address) error {
	if len(addr) == 0 {
		return fmt.Errorf("%w: address is required", ErrInvalidAddress)
	}
	if len(addr) > maxAddressKeys {
		return fmt.Errorf("%w: too many address keys (%d, max %d)",
			ErrInvalidAddress, len(addr), maxAddressKeys)
	}
	for k, v := range addr {
		if s, ok := v.(string); ok && len(s) > maxStringValueLen {
			return fmt.Errorf("%w: value for %q exceeds %d characters",
				ErrInvalidAddress, k, maxStringValueLen)
		}
	}
	return nil
}

// ValidateCapability checks a single capability descriptor is well-formed.
func ValidateCapability(c Capability) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCapability)
	}
	if _, ok := validCapabilityTypes[c.Type]; !ok {
		return fmt.Errorf("%w: %q has unknown type %q", ErrInvalidCapability, c.Name, c.Type)
	}
	if !c.Readable && !c.Writable {
		return fmt.Errorf("%w: %q is neither readable nor writable", ErrInvalidCapability, c.Name)
	}

	switch c.Type {
	case CapabilityNumber:
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return fmt.Errorf("%w: %q min %v exceeds max %v",
				ErrInvalidCapability, c.Name, *c.Min, *c.Max)
		}
	case CapabilityEnum:
		if len(c.EnumValues) == 0 {
			return fmt.Errorf("%w: %q enum requires values", ErrInvalidCapability, c.Name)
		}
		if len(c.EnumValues) > maxEnumValues {
			return fmt.Errorf("%w: %q has too many enum values (%d, max %d)",
				ErrInvalidCapability, c.Name, len(c.EnumValues), maxEnumValues)
		}
	case CapabilityBool, CapabilityString:
		if c.Min != nil || c.Max != nil || len(c.EnumValues) > 0 {
			return fmt.Errorf("%w: %q carries constraints invalid for type %q",
				ErrInvalidCapability, c.Name, c.Type)
		}
	}

	return nil
}

// GenerateID returns a new unique device identifier.
func GenerateID() string {
	return uuid.NewString()
}
