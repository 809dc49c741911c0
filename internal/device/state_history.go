package device

import (
	"context"
	"time"
)

// State history source values.
const (
	StateHistorySourceDriver  = "driver"
	StateHistorySourceCommand = "command"
	StateHistorySourceAPI     = "api"
)

// StateHistoryEntry represents a single device state change record.
//
// Each entry stores the attribute delta that was accepted, giving a
// local audit trail even when the time-series database is unavailable.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceID is the unique identifier of the device.
	DeviceID string `json:"device_id"`

	// Delta is the JSON delta of changed attributes.
	Delta State `json:"delta"`

	// Source identifies how the state change was recorded (driver, command, api).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the state change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange records a device state change.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - delta: Changed attributes to persist
	//   - source: Origin of the change (driver, command, api)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordStateChange(ctx context.Context, deviceID string, delta State, source string) error

	// GetHistory returns recent state change history for the device.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []StateHistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)
}
