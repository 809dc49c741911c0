// Package mqtt provides the publish/subscribe transport for Hearth Core.
//
// It wraps the Eclipse Paho MQTT client with connection management,
// subscription tracking, and automatic re-subscription on reconnect, and
// adds the pieces the rest of the gateway depends on:
//
//   - Topics: the fixed topic scheme that is the wire contract between the
//     engine and the per-protocol driver bridges
//     (devices/{id}/commands|state|events|responses,
//     drivers/{protocol}/{id}/commands|responses, homes/{id}/broadcast)
//   - MatchTopic: MQTT wildcard matching ('+' single segment, '#' trailing)
//     for local routing of broadly-subscribed traffic
//   - Broker: an optional embedded in-process broker (mochi-mqtt) for
//     single-box installs
//
// Reconnection is bounded: when mqtt.reconnect.max_attempts is positive and
// exhausted, the client gives up and reports a fatal transport error through
// SetOnFatal rather than retrying forever. Consumers must stop accepting
// work that depends on the transport when that fires.
package mqtt
