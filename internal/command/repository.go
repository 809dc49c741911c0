package command

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository is the durable log behind the engine's in-memory queues.
// Pending commands are reloaded from it on startup so a restart does
// not silently drop accepted work.
type Repository interface {
	// Create inserts a new command record.
	Create(ctx context.Context, cmd *Command) error

	// UpdateStatus persists a command's status, retry count, error, and
	// execution timestamps.
	UpdateStatus(ctx context.Context, cmd *Command) error

	// GetByID retrieves a command by its unique identifier.
	// Returns ErrNotFound if the command does not exist.
	GetByID(ctx context.Context, id string) (*Command, error)

	// FindPending returns all non-terminal commands, oldest first.
	// Commands stuck in executing at startup are included: the process
	// died mid-dispatch and they must be re-run or failed.
	FindPending(ctx context.Context) ([]Command, error)

	// ListByDevice returns recent commands for a device, newest first.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Command, error)
}

const commandColumns = `id, device_id, name, parameters, priority, status,
		retry_count, max_retries, error, created_at, executed_at, completed_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed command repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new command record.
func (r *SQLiteRepository) Create(ctx context.Context, cmd *Command) error {
	paramsJSON, err := json.Marshal(cmd.Parameters)
	if err != nil {
		return fmt.Errorf("marshalling parameters: %w", err)
	}

	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO commands (
			id, device_id, name, parameters, priority, status,
			retry_count, max_retries, error, created_at, executed_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		cmd.ID,
		cmd.DeviceID,
		cmd.Name,
		string(paramsJSON),
		cmd.Priority,
		string(cmd.Status),
		cmd.RetryCount,
		cmd.MaxRetries,
		nullableError(cmd.Error),
		cmd.CreatedAt.Format(time.RFC3339Nano),
		nullableTimestamp(cmd.ExecutedAt),
		nullableTimestamp(cmd.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}

	return nil
}

// UpdateStatus persists a command's mutable execution fields.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, cmd *Command) error {
	query := `
		UPDATE commands SET
			status = ?, retry_count = ?, error = ?, executed_at = ?, completed_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(cmd.Status),
		cmd.RetryCount,
		nullableError(cmd.Error),
		nullableTimestamp(cmd.ExecutedAt),
		nullableTimestamp(cmd.CompletedAt),
		cmd.ID,
	)
	if err != nil {
		return fmt.Errorf("updating command status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves a command by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Command, error) {
	query := `SELECT ` + commandColumns + ` FROM commands WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	cmd, err := scanCommandRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying command by id: %w", err)
	}
	return cmd, nil
}

// FindPending returns all non-terminal commands, oldest first.
func (r *SQLiteRepository) FindPending(ctx context.Context) ([]Command, error) {
	query := `SELECT ` + commandColumns + `
		FROM commands
		WHERE status IN (?, ?)
		ORDER BY created_at ASC`

	return r.queryCommands(ctx, query, string(StatusPending), string(StatusExecuting))
}

// ListByDevice returns recent commands for a device, newest first.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Command, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + commandColumns + `
		FROM commands
		WHERE device_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	return r.queryCommands(ctx, query, deviceID, limit)
}

// queryCommands executes a query and returns a slice of commands.
func (r *SQLiteRepository) queryCommands(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		cmd, err := scanCommandRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}

	return commands, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanCommandRow scans a row or rows result into a Command.
func scanCommandRow(scanner rowScanner) (*Command, error) {
	var c Command
	var paramsJSON string
	var status string
	var errText sql.NullString
	var createdAt string
	var executedAt, completedAt sql.NullString

	err := scanner.Scan(
		&c.ID,
		&c.DeviceID,
		&c.Name,
		&paramsJSON,
		&c.Priority,
		&status,
		&c.RetryCount,
		&c.MaxRetries,
		&errText,
		&createdAt,
		&executedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = Status(status)
	if errText.Valid {
		c.Error = errText.String
	}

	if err := json.Unmarshal([]byte(paramsJSON), &c.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshalling parameters: %w", err)
	}

	c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if executedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, executedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing executed_at: %w", err)
		}
		c.ExecutedAt = &t
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		c.CompletedAt = &t
	}

	return &c, nil
}

// nullableError returns a sql.NullString for an optional error message.
func nullableError(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableTimestamp returns a sql.NullString for optional time pointers.
func nullableTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
