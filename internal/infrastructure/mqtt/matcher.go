package mqtt

import "strings"

// Topic matching implements MQTT wildcard semantics for local dispatch.
//
// Driver packages subscribe to broad patterns (e.g. drivers/zigbee/+/responses)
// and route individual messages to per-request waiters; they use MatchTopic
// to evaluate candidate topics against stored patterns without another
// round-trip through the broker.

// MatchTopic reports whether a topic matches a subscription pattern.
//
// Wildcard semantics:
//   - "+" matches exactly one path segment
//   - "#" matches one or more trailing segments and is only valid as the
//     final segment of the pattern
//
// Examples:
//
//	MatchTopic("devices/+/state", "devices/42/state")  // true
//	MatchTopic("devices/#", "devices/42/state")        // true
//	MatchTopic("devices/+/events", "devices/42/state") // false
//	MatchTopic("devices/#", "devices")                 // false ('#' needs >= 1 segment)
func MatchTopic(pattern, topic string) bool {
	if !ValidPattern(pattern) {
		return false
	}
	if pattern == topic {
		return true
	}

	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")

	for i, pp := range patternParts {
		switch pp {
		case "#":
			// Final segment (guaranteed by ValidPattern); matches the rest,
			// which must be at least one segment.
			return len(topicParts) > i
		case "+":
			if i >= len(topicParts) {
				return false
			}
		default:
			if i >= len(topicParts) || topicParts[i] != pp {
				return false
			}
		}
	}

	return len(topicParts) == len(patternParts)
}

// ValidPattern reports whether a subscription pattern is well formed:
// non-empty, no empty segments, and '#' only as the final segment.
func ValidPattern(pattern string) bool {
	if pattern == "" {
		return false
	}

	parts := strings.Split(pattern, "/")
	for i, p := range parts {
		if p == "" {
			return false
		}
		if p == "#" && i != len(parts)-1 {
			return false
		}
		// '+' and '#' must occupy a whole segment.
		if p != "+" && p != "#" && (strings.Contains(p, "+") || strings.Contains(p, "#")) {
			return false
		}
	}
	return true
}

// MatchingPatterns returns every pattern from the given set that matches the
// topic. Callers that fan a message out across overlapping subscriptions use
// this to deliver once per matching pattern, which is the expected duplicate
// delivery behaviour of the transport.
func MatchingPatterns(patterns []string, topic string) []string {
	var matched []string
	for _, p := range patterns {
		if MatchTopic(p, topic) {
			matched = append(matched, p)
		}
	}
	return matched
}
