package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByHome retrieves all devices belonging to a home.
	ListByHome(ctx context.Context, homeID string) ([]Device, error)

	// ListByProtocol retrieves all devices using a specific protocol.
	ListByProtocol(ctx context.Context, protocol Protocol) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device. Ownership columns are never
	// written by this method.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState merges a state delta into the stored snapshot and
	// records the new version. Optimised for frequent driver updates.
	UpdateState(ctx context.Context, id string, delta State, version int64) error

	// UpdateOnline updates the online flag.
	UpdateOnline(ctx context.Context, id string, online bool) error

	// UpdatePaired updates the paired flag.
	UpdatePaired(ctx context.Context, id string, paired bool) error
}

// deviceColumns is the shared column list for device SELECTs.
const deviceColumns = `id, name, protocol, address, home_id, user_id,
		capabilities, state, state_version, state_updated_at, online, paired,
		manufacturer, model, firmware_version, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// ListByHome retrieves all devices belonging to a home.
func (r *SQLiteRepository) ListByHome(ctx context.Context, homeID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE home_id = ? ORDER BY name`
	return r.queryDevices(ctx, query, homeID)
}

// ListByProtocol retrieves all devices using a specific protocol.
func (r *SQLiteRepository) ListByProtocol(ctx context.Context, protocol Protocol) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE protocol = ? ORDER BY name`
	return r.queryDevices(ctx, query, string(protocol))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	addressJSON, err := json.Marshal(device.Address)
	if err != nil {
		return fmt.Errorf("marshalling address: %w", err)
	}

	capsJSON, err := json.Marshal(device.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}

	stateJSON, err := json.Marshal(device.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, protocol, address, home_id, user_id,
			capabilities, state, state_version, state_updated_at, online, paired,
			manufacturer, model, firmware_version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		device.ID,
		device.Name,
		string(device.Protocol),
		string(addressJSON),
		device.HomeID,
		device.UserID,
		string(capsJSON),
		string(stateJSON),
		device.StateVersion,
		nullableTime(device.StateUpdatedAt),
		boolToInt(device.Online),
		boolToInt(device.Paired),
		nullableString(device.Manufacturer),
		nullableString(device.Model),
		nullableString(device.FirmwareVersion),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
// Ownership (home_id, user_id) is deliberately absent from the SET list.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	exists, err := r.exists(ctx, device.ID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrDeviceNotFound
	}

	addressJSON, err := json.Marshal(device.Address)
	if err != nil {
		return fmt.Errorf("marshalling address: %w", err)
	}

	capsJSON, err := json.Marshal(device.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}

	stateJSON, err := json.Marshal(device.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	device.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, protocol = ?, address = ?,
			capabilities = ?, state = ?, state_version = ?, state_updated_at = ?,
			online = ?, paired = ?,
			manufacturer = ?, model = ?, firmware_version = ?, updated_at = ?
		WHERE id = ?`

	_, err = r.db.ExecContext(ctx, query,
		device.Name,
		string(device.Protocol),
		string(addressJSON),
		string(capsJSON),
		string(stateJSON),
		device.StateVersion,
		nullableTime(device.StateUpdatedAt),
		boolToInt(device.Online),
		boolToInt(device.Paired),
		nullableString(device.Manufacturer),
		nullableString(device.Model),
		nullableString(device.FirmwareVersion),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// UpdateState merges the given delta into the device's existing state and
// records the new version. Partial updates preserve keys not present in
// the delta.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, delta State, version int64) error {
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("marshalling state delta: %w", err)
	}

	now := time.Now().UTC()
	// json_patch(target, patch) applies patch keys to target, preserving
	// existing keys not present in patch.
	query := `
		UPDATE devices
		SET state = json_patch(COALESCE(state, '{}'), ?),
		    state_version = ?,
		    state_updated_at = ?,
		    updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(deltaJSON),
		version,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// UpdateOnline updates the online flag.
func (r *SQLiteRepository) UpdateOnline(ctx context.Context, id string, online bool) error {
	return r.updateFlag(ctx, id, "online", online)
}

// UpdatePaired updates the paired flag.
func (r *SQLiteRepository) UpdatePaired(ctx context.Context, id string, paired bool) error {
	return r.updateFlag(ctx, id, "paired", paired)
}

// updateFlag sets a single boolean column. The column name comes from a
// fixed caller-supplied constant, never user input.
func (r *SQLiteRepository) updateFlag(ctx context.Context, id, column string, value bool) error {
	query := fmt.Sprintf(
		"UPDATE devices SET %s = ?, updated_at = ? WHERE id = ?", column)

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(value),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device %s: %w", column, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// exists checks if a device with the given ID exists.
func (r *SQLiteRepository) exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking device exists: %w", err)
	}
	return count > 0, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDeviceRow scans a row or rows result into a Device.
func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var stateUpdatedAt sql.NullString
	var manufacturer, model, firmwareVersion sql.NullString
	var addressJSON, capsJSON, stateJSON string
	var online, paired int
	var createdAt, updatedAt string
	var protocol string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&protocol,
		&addressJSON,
		&d.HomeID,
		&d.UserID,
		&capsJSON,
		&stateJSON,
		&d.StateVersion,
		&stateUpdatedAt,
		&online,
		&paired,
		&manufacturer,
		&model,
		&firmwareVersion,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Protocol = Protocol(protocol)
	d.Online = online != 0
	d.Paired = paired != 0

	if manufacturer.Valid {
		d.Manufacturer = &manufacturer.String
	}
	if model.Valid {
		d.Model = &model.String
	}
	if firmwareVersion.Valid {
		d.FirmwareVersion = &firmwareVersion.String
	}

	if stateUpdatedAt.Valid {
		t, err := time.Parse(time.RFC3339, stateUpdatedAt.String)
		if err == nil {
			d.StateUpdatedAt = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(addressJSON), &d.Address); err != nil {
		return nil, fmt.Errorf("unmarshalling address: %w", err)
	}
	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}

	return &d, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
