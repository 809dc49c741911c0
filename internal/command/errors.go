package command

import "errors"

// Error taxonomy for command processing.
//
// Validation, offline, and not-paired errors reject a submission before
// anything is queued and are never retried. Timeout and driver errors
// occur during execution and are retried up to the command's retry
// budget. Transport errors surface from the pub/sub layer; when its
// reconnect budget is exhausted the engine stops accepting submissions.
var (
	// ErrValidation indicates a bad command or capability mismatch.
	// Rejected pre-queue, never retried.
	ErrValidation = errors.New("command: validation failed")

	// ErrDeviceOffline indicates the target device is not reachable.
	// Rejected pre-queue.
	ErrDeviceOffline = errors.New("command: device offline")

	// ErrDeviceNotPaired indicates the target device is not paired.
	// Rejected pre-queue.
	ErrDeviceNotPaired = errors.New("command: device not paired")

	// ErrTimeout indicates the driver call exceeded its deadline.
	// Retried up to the command's retry budget.
	ErrTimeout = errors.New("command: execution timeout")

	// ErrDriver indicates a protocol-level failure.
	// Retried up to the command's retry budget.
	ErrDriver = errors.New("command: driver failure")

	// ErrTransport indicates a publish/subscribe failure.
	ErrTransport = errors.New("command: transport failure")

	// ErrNotFound indicates the command ID does not exist.
	ErrNotFound = errors.New("command: not found")

	// ErrNotPending is returned when cancelling a command that has
	// already been dispatched or finished.
	ErrNotPending = errors.New("command: not pending")

	// ErrNotRetryable is returned when retrying a command that is not
	// in the failed state.
	ErrNotRetryable = errors.New("command: not retryable")

	// ErrEngineStopped is returned when the engine is no longer
	// accepting submissions (shutdown, or transport fatally down).
	ErrEngineStopped = errors.New("command: engine stopped")
)
