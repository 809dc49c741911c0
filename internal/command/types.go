package command

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a command's position in its lifecycle.
//
// Transitions:
//
//	pending  -> executing  (dispatched to a driver)
//	executing -> completed (driver confirmed)
//	executing -> failed    (driver error, timeout, or retries exhausted)
//	failed   -> pending    (retry; increments RetryCount)
//	pending  -> failed     (cancel)
//
// completed is terminal. failed is terminal unless retried.
type Status string

// Command statuses.
const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Priority bounds. Higher priorities dispatch first.
const (
	MinPriority = 0
	MaxPriority = 10
)

// Command is one unit of work against a single device.
type Command struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority"`

	Status     Status `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	Error      string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Request is the caller-facing shape of a command submission.
type Request struct {
	DeviceID   string         `json:"device_id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Priority   int            `json:"priority"`
	MaxRetries *int           `json:"max_retries,omitempty"`
}

// newCommand builds a pending command from a validated request. The
// request's parameter map is copied so the caller cannot alias the
// engine-owned command.
func newCommand(req Request, maxRetries int) *Command {
	return &Command{
		ID:         uuid.NewString(),
		DeviceID:   req.DeviceID,
		Name:       req.Name,
		Parameters: copyParameters(req.Parameters),
		Priority:   req.Priority,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}

// snapshot returns a caller-owned copy of the command. Once a command
// is enqueued the dispatcher goroutine mutates it, so everything handed
// back across the engine's API boundary must be detached.
func (c *Command) snapshot() *Command {
	cpy := *c
	cpy.Parameters = copyParameters(c.Parameters)
	if c.ExecutedAt != nil {
		t := *c.ExecutedAt
		cpy.ExecutedAt = &t
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cpy.CompletedAt = &t
	}
	return &cpy
}

func copyParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	cpy := make(map[string]any, len(params))
	for k, v := range params {
		cpy[k] = v
	}
	return cpy
}

// IsTerminal reports whether the command has reached a final state.
func (c *Command) IsTerminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusFailed
}

// targetCapability derives the capability a write command addresses.
// The convention is set_{capability}: set_brightness targets brightness.
// Commands outside the convention target nothing and skip capability
// validation (they are driver-defined actions).
func targetCapability(name string) (string, bool) {
	if rest, ok := strings.CutPrefix(name, "set_"); ok && rest != "" {
		return rest, true
	}
	return "", false
}
