// Package device provides the Device Registry for Hearth Core.
//
// The Device Registry is the central catalogue of every paired or
// discovered device in a Hearth installation. It manages device
// lifecycle, the canonical capability model, and the versioned state
// snapshot that the command engine and fanout service consume.
//
// # Key Types
//
//   - Device: The core entity, with identity, protocol address,
//     ownership, capabilities, and a versioned state snapshot
//   - Capability: A named, typed, range/enum-constrained attribute a
//     device exposes for read and/or write
//   - Protocol: Communication protocol (zigbee, zwave, http)
//   - StateChange: An accepted state write, as delivered to the fanout
//     hub and persistence sinks
//
// # Usage
//
//	// Create repository and registry
//	repo := device.NewSQLiteRepository(db)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	// Load devices into cache on startup
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	// Apply a driver-reported state update
//	change, err := registry.ApplyState(ctx, id,
//	    device.State{"brightness": 75}, nil, device.StateHistorySourceDriver)
//
// # State Versioning
//
// Every accepted state write strictly increases the device's
// StateVersion. Writers that carry their own version (drivers replaying
// hardware reports) are rejected with ErrStaleState when their version
// is not greater than the recorded one, so a late-arriving older report
// can never clobber fresher state.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. All operations are protected
// by a read-write mutex, and devices returned from it are deep copies.
// The Repository implementation must also be thread-safe.
package device
