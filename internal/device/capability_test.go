package device

import (
	"errors"
	"strings"
	"testing"
)

func floatPtr(f float64) *float64 { return &f }

func TestCapabilityValidateBool(t *testing.T) {
	cap := Capability{Name: "power", Type: CapabilityBool, Readable: true, Writable: true}

	if err := cap.Validate(true); err != nil {
		t.Errorf("Validate(true) error = %v", err)
	}
	if err := cap.Validate(false); err != nil {
		t.Errorf("Validate(false) error = %v", err)
	}
	if err := cap.Validate("on"); !errors.Is(err, ErrCapabilityViolation) {
		t.Errorf("Validate(\"on\") error = %v, want ErrCapabilityViolation", err)
	}
	if err := cap.Validate(1); !errors.Is(err, ErrCapabilityViolation) {
		t.Errorf("Validate(1) error = %v, want ErrCapabilityViolation", err)
	}
}

func TestCapabilityValidateNumber(t *testing.T) {
	cap := Capability{
		Name:     "brightness",
		Type:     CapabilityNumber,
		Readable: true,
		Writable: true,
		Min:      floatPtr(0),
		Max:      floatPtr(100),
	}

	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{"in range float", 75.0, false},
		{"in range int", 50, false},
		{"lower bound", 0.0, false},
		{"upper bound", 100.0, false},
		{"above max", 150.0, true},
		{"below min", -1.0, true},
		{"wrong type", "bright", true},
		{"bool not number", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cap.Validate(tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrCapabilityViolation) {
					t.Errorf("Validate(%v) error = %v, want ErrCapabilityViolation", tt.value, err)
				}
			} else if err != nil {
				t.Errorf("Validate(%v) error = %v", tt.value, err)
			}
		})
	}
}

func TestCapabilityValidateNumberErrorNamesConstraint(t *testing.T) {
	cap := Capability{
		Name:     "brightness",
		Type:     CapabilityNumber,
		Readable: true,
		Writable: true,
		Max:      floatPtr(100),
	}

	err := cap.Validate(150.0)
	if err == nil {
		t.Fatal("Validate(150) expected error")
	}
	if !strings.Contains(err.Error(), "maximum") {
		t.Errorf("error %q does not name the violated maximum", err)
	}
	if !strings.Contains(err.Error(), "brightness") {
		t.Errorf("error %q does not name the capability", err)
	}
}

func TestCapabilityValidateEnum(t *testing.T) {
	cap := Capability{
		Name:       "mode",
		Type:       CapabilityEnum,
		Readable:   true,
		Writable:   true,
		EnumValues: []string{"heat", "cool", "auto"},
	}

	if err := cap.Validate("heat"); err != nil {
		t.Errorf("Validate(heat) error = %v", err)
	}
	if err := cap.Validate("off"); !errors.Is(err, ErrCapabilityViolation) {
		t.Errorf("Validate(off) error = %v, want ErrCapabilityViolation", err)
	}
	if err := cap.Validate(2); !errors.Is(err, ErrCapabilityViolation) {
		t.Errorf("Validate(2) error = %v, want ErrCapabilityViolation", err)
	}
}

func TestCapabilityValidateString(t *testing.T) {
	cap := Capability{Name: "label", Type: CapabilityString, Readable: true, Writable: true}

	if err := cap.Validate("hello"); err != nil {
		t.Errorf("Validate(hello) error = %v", err)
	}
	if err := cap.Validate(42); !errors.Is(err, ErrCapabilityViolation) {
		t.Errorf("Validate(42) error = %v, want ErrCapabilityViolation", err)
	}
}

func TestFindCapability(t *testing.T) {
	dev := testDevice("dev-1")

	cap, err := dev.FindCapability("brightness")
	if err != nil {
		t.Fatalf("FindCapability(brightness) error = %v", err)
	}
	if cap.Type != CapabilityNumber {
		t.Errorf("Type = %q, want number", cap.Type)
	}

	if _, err := dev.FindCapability("color"); !errors.Is(err, ErrCapabilityNotFound) {
		t.Errorf("FindCapability(color) error = %v, want ErrCapabilityNotFound", err)
	}
}

func TestValidateCapabilityDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		cap     Capability
		wantErr bool
	}{
		{
			name:    "valid bool",
			cap:     Capability{Name: "power", Type: CapabilityBool, Readable: true, Writable: true},
			wantErr: false,
		},
		{
			name:    "missing name",
			cap:     Capability{Type: CapabilityBool, Readable: true},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cap:     Capability{Name: "x", Type: "blob", Readable: true},
			wantErr: true,
		},
		{
			name:    "neither readable nor writable",
			cap:     Capability{Name: "x", Type: CapabilityBool},
			wantErr: true,
		},
		{
			name: "min above max",
			cap: Capability{
				Name: "level", Type: CapabilityNumber, Readable: true,
				Min: floatPtr(10), Max: floatPtr(5),
			},
			wantErr: true,
		},
		{
			name:    "enum without values",
			cap:     Capability{Name: "mode", Type: CapabilityEnum, Readable: true},
			wantErr: true,
		},
		{
			name: "bool with range constraints",
			cap: Capability{
				Name: "power", Type: CapabilityBool, Readable: true,
				Max: floatPtr(1),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCapability(tt.cap)
			if tt.wantErr && !errors.Is(err, ErrInvalidCapability) {
				t.Errorf("ValidateCapability() error = %v, want ErrInvalidCapability", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ValidateCapability() error = %v", err)
			}
		})
	}
}
