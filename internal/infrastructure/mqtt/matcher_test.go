package mqtt

import (
	"reflect"
	"testing"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		topic   string
		want    bool
	}{
		// Exact matches
		{"devices/42/state", "devices/42/state", true},
		{"devices/42/state", "devices/42/events", false},
		{"device/42/state", "devices/42/state", false},

		// Single-level wildcard
		{"devices/+/state", "devices/42/state", true},
		{"devices/+/state", "devices/abc-def/state", true},
		{"devices/+/events", "devices/42/state", false},
		{"devices/+/state", "devices/state", false},
		{"devices/+/state", "devices/42/state/extra", false},
		{"+/42/state", "devices/42/state", true},
		{"drivers/+/+/responses", "drivers/zigbee/0xab12/responses", true},
		{"drivers/+/+/responses", "drivers/zigbee/responses", false},

		// Multi-level wildcard
		{"devices/#", "devices/42/state", true},
		{"devices/#", "devices/42", true},
		{"devices/#", "devices/42/state/nested", true},
		{"devices/#", "devices", false}, // '#' requires at least one segment
		{"devices/#", "homes/42/broadcast", false},
		{"#", "devices/42/state", true},

		// Malformed patterns never match
		{"devices/#/state", "devices/42/state", false},
		{"", "devices/42/state", false},
		{"devices//state", "devices//state", false},
	}

	for _, tt := range tests {
		if got := MatchTopic(tt.pattern, tt.topic); got != tt.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.pattern, tt.topic, got, tt.want)
		}
	}
}

func TestValidPattern(t *testing.T) {
	valid := []string{"devices/+/state", "devices/#", "#", "+", "devices/42/state", "drivers/+/+/responses"}
	for _, p := range valid {
		if !ValidPattern(p) {
			t.Errorf("ValidPattern(%q) = false, want true", p)
		}
	}

	invalid := []string{"", "devices/#/state", "#/devices", "devices//state", "devices/sta+te", "devices/st#ate"}
	for _, p := range invalid {
		if ValidPattern(p) {
			t.Errorf("ValidPattern(%q) = true, want false", p)
		}
	}
}

func TestMatchingPatterns(t *testing.T) {
	patterns := []string{
		"devices/+/state",
		"devices/#",
		"devices/42/state",
		"devices/+/events",
		"homes/+/broadcast",
	}

	got := MatchingPatterns(patterns, "devices/42/state")
	want := []string{"devices/+/state", "devices/#", "devices/42/state"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MatchingPatterns() = %v, want %v", got, want)
	}

	if got := MatchingPatterns(patterns, "nothing/here"); got != nil {
		t.Errorf("MatchingPatterns() = %v, want nil", got)
	}
}
