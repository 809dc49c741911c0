// Package command implements the gateway's command delivery engine.
//
// Commands move through a fixed lifecycle: pending -> executing ->
// completed or failed. A failed command returns to pending only through
// a retry, which increments the retry count; a pending command reaches
// failed only through cancellation.
//
// Delivery is serialised per device. Each device has its own
// priority-ordered queue (higher priority first, submission order
// within a priority), and at most one command per device is in flight
// at any time. Retries are rescheduled with exponential backoff:
// delay = base * 2^retryCount.
//
// Validation is synchronous and happens before a command is queued.
// Requests naming a set_{capability} command are checked against the
// target device's capability descriptor, so a range or type violation
// is rejected at submission and never reaches a driver.
//
// Commands are persisted to SQLite on acceptance and on every status
// transition; non-terminal commands are reloaded into the queues on
// startup.
package command
