package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/metrics"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/mqtt"
)

// Defaults applied when configuration leaves engine settings zero.
const (
	defaultDispatchTick   = 50 * time.Millisecond
	defaultCommandTimeout = 30 * time.Second
	defaultBackoffBase    = 500 * time.Millisecond
	defaultMaxRetries     = 3
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher is the transport surface the engine needs: terminal command
// results are published for external observers. Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StatusEvent describes a command status change, as delivered to the
// fanout hub and published on the device's response topic.
type StatusEvent struct {
	Command   Command      `json:"command"`
	HomeID    string       `json:"home_id"`
	UserID    string       `json:"user_id"`
	State     device.State `json:"state,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Engine accepts command requests, validates them against the device's
// capabilities, serialises execution per device, retries with
// exponential backoff, and reports terminal status.
//
// One dispatcher goroutine owns the dispatch decision; executions run
// in per-command goroutines. The per-device queue and in-flight marker
// are the only mutually exclusive resources, guarded by one mutex.
type Engine struct {
	cfg     config.EngineConfig
	devices *device.Registry
	drivers *driver.Registry
	repo    Repository
	pub     Publisher
	topics  mqtt.Topics
	logger  Logger

	mu        sync.Mutex
	queues    map[string]*deviceQueue
	inflight  map[string]struct{}
	accepting bool
	started   bool

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *metrics.Metrics

	onStatus func(ev StatusEvent)
	onState  func(change *device.StateChange)
}

// NewEngine creates a command engine. Start must be called before
// submissions are accepted.
func NewEngine(cfg config.EngineConfig, devices *device.Registry, drivers *driver.Registry, repo Repository, pub Publisher) *Engine {
	return &Engine{
		cfg:      cfg,
		devices:  devices,
		drivers:  drivers,
		repo:     repo,
		pub:      pub,
		logger:   noopLogger{},
		queues:   make(map[string]*deviceQueue),
		inflight: make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// SetMetrics attaches Prometheus instrumentation to the engine.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// SetOnStatus registers a callback invoked for every status change,
// including the non-terminal pending and executing transitions. Used by
// the fanout hub.
func (e *Engine) SetOnStatus(callback func(ev StatusEvent)) {
	e.onStatus = callback
}

// SetOnState registers a callback invoked when a completed command
// produced a confirmed state change.
func (e *Engine) SetOnState(callback func(change *device.StateChange)) {
	e.onState = callback
}

// Start reloads pending commands from the durable log and launches the
// dispatcher.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("command: engine already started")
	}
	e.started = true
	e.accepting = true
	e.mu.Unlock()

	if err := e.reloadPending(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go e.dispatchLoop(runCtx)

	e.logger.Info("command engine started",
		"tick_ms", e.dispatchTick().Milliseconds(),
		"command_timeout", e.commandTimeout().String())
	return nil
}

// Stop halts intake, stops the dispatcher, and waits for in-flight
// executions to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.accepting = false
	started := e.started
	e.mu.Unlock()

	if !started {
		return
	}
	e.cancel()
	e.wg.Wait()
}

// HaltIntake stops accepting new submissions while letting queued and
// in-flight work finish. Called when the transport's reconnect budget
// is exhausted.
func (e *Engine) HaltIntake(reason error) {
	e.mu.Lock()
	wasAccepting := e.accepting
	e.accepting = false
	e.mu.Unlock()

	if wasAccepting {
		e.logger.Error("command intake halted", "reason", reason)
	}
}

// Submit validates a request and places it on the target device's
// queue. All validation failures are synchronous and happen before the
// command is queued or persisted.
//
// Returns the accepted command, or:
//   - ErrEngineStopped when the engine is not accepting work
//   - ErrValidation for bad requests and capability violations
//   - ErrDeviceOffline / ErrDeviceNotPaired for precondition failures
//   - device.ErrDeviceNotFound for unknown devices
func (e *Engine) Submit(ctx context.Context, req Request) (*Command, error) {
	e.mu.Lock()
	accepting := e.accepting
	e.mu.Unlock()
	if !accepting {
		return nil, ErrEngineStopped
	}

	dev, err := e.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	maxRetries := e.defaultMaxRetries()
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must be non-negative", ErrValidation)
		}
		maxRetries = *req.MaxRetries
	}

	cmd := newCommand(req, maxRetries)
	if err := e.repo.Create(ctx, cmd); err != nil {
		return nil, fmt.Errorf("persisting command: %w", err)
	}

	// Snapshot before enqueue: the dispatcher owns cmd from that point on.
	accepted := cmd.snapshot()
	e.enqueue(cmd, time.Time{})
	if e.metrics != nil {
		e.metrics.CommandsSubmitted.WithLabelValues(string(dev.Protocol)).Inc()
	}
	e.notifyStatus(accepted, dev, nil)
	e.logger.Debug("command accepted",
		"id", accepted.ID, "device", accepted.DeviceID, "name", accepted.Name, "priority", accepted.Priority)

	return accepted, nil
}

// BulkResult pairs one submission in a bulk request with its outcome.
type BulkResult struct {
	Command *Command `json:"command,omitempty"`
	Err     error    `json:"-"`
}

// SubmitBulk fans a batch out into independent commands. A rejected
// entry does not affect its siblings; each result carries either the
// accepted command or the rejection.
func (e *Engine) SubmitBulk(ctx context.Context, reqs []Request) []BulkResult {
	results := make([]BulkResult, len(reqs))
	for i, req := range reqs {
		cmd, err := e.Submit(ctx, req)
		results[i] = BulkResult{Command: cmd, Err: err}
	}
	return results
}

// Cancel removes a pending command from its queue and marks it failed.
// Commands already dispatched cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, id string) (*Command, error) {
	e.mu.Lock()
	var cmd *Command
	for deviceID, q := range e.queues {
		if removed := q.remove(id); removed != nil {
			cmd = removed
			e.updateDepth(deviceID, q)
			break
		}
	}
	e.mu.Unlock()

	if cmd == nil {
		stored, err := e.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: status %s", ErrNotPending, stored.Status)
	}

	now := time.Now().UTC()
	cmd.Status = StatusFailed
	cmd.Error = "cancelled"
	cmd.CompletedAt = &now
	if err := e.repo.UpdateStatus(ctx, cmd); err != nil {
		return nil, err
	}

	e.publishTerminal(cmd, nil)
	e.logger.Info("command cancelled", "id", cmd.ID, "device", cmd.DeviceID)
	return cmd, nil
}

// Retry re-enqueues a terminally failed command. The retry count is
// incremented, matching the automatic retry transition; the caller's
// intent overrides an exhausted retry budget.
func (e *Engine) Retry(ctx context.Context, id string) (*Command, error) {
	e.mu.Lock()
	accepting := e.accepting
	e.mu.Unlock()
	if !accepting {
		return nil, ErrEngineStopped
	}

	cmd, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cmd.Status != StatusFailed {
		return nil, fmt.Errorf("%w: status %s", ErrNotRetryable, cmd.Status)
	}

	cmd.Status = StatusPending
	cmd.RetryCount++
	cmd.Error = ""
	cmd.CompletedAt = nil
	if err := e.repo.UpdateStatus(ctx, cmd); err != nil {
		return nil, err
	}

	retried := cmd.snapshot()
	e.enqueue(cmd, time.Time{})
	e.logger.Info("command retried", "id", retried.ID, "retry_count", retried.RetryCount)
	return retried, nil
}

// GetCommand retrieves a command from the durable log.
func (e *Engine) GetCommand(ctx context.Context, id string) (*Command, error) {
	return e.repo.GetByID(ctx, id)
}

// ListByDevice returns recent commands for a device, newest first.
func (e *Engine) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Command, error) {
	return e.repo.ListByDevice(ctx, deviceID, limit)
}

// QueueDepth returns the number of queued commands for a device.
func (e *Engine) QueueDepth(deviceID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if q, ok := e.queues[deviceID]; ok {
		return q.len()
	}
	return 0
}

// validate runs every pre-queue check: device existence, reachability,
// pairing, and capability constraints.
func (e *Engine) validate(ctx context.Context, req Request) (*device.Device, error) {
	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if req.Priority < MinPriority || req.Priority > MaxPriority {
		return nil, fmt.Errorf("%w: priority %d outside %d..%d",
			ErrValidation, req.Priority, MinPriority, MaxPriority)
	}

	dev, err := e.devices.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if !dev.Online {
		return nil, fmt.Errorf("%w: %s", ErrDeviceOffline, dev.ID)
	}
	if !dev.Paired {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotPaired, dev.ID)
	}

	if capName, ok := targetCapability(req.Name); ok {
		capability, err := dev.FindCapability(capName)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if !capability.Writable {
			return nil, fmt.Errorf("%w: %w: %q",
				ErrValidation, device.ErrCapabilityNotWritable, capName)
		}
		value, present := req.Parameters["value"]
		if !present {
			return nil, fmt.Errorf("%w: %s requires a value parameter", ErrValidation, req.Name)
		}
		if err := capability.Validate(value); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}

	return dev, nil
}

// enqueue places a command on its device queue and wakes the dispatcher.
func (e *Engine) enqueue(cmd *Command, readyAt time.Time) {
	e.mu.Lock()
	q, ok := e.queues[cmd.DeviceID]
	if !ok {
		q = newDeviceQueue()
		e.queues[cmd.DeviceID] = q
	}
	q.push(queued{cmd: cmd, readyAt: readyAt})
	e.updateDepth(cmd.DeviceID, q)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// updateDepth maintains the queue-depth gauge and prunes drained
// queues so the map and the per-device gauge series do not accumulate
// over device lifetimes. Callers hold e.mu.
func (e *Engine) updateDepth(deviceID string, q *deviceQueue) {
	depth := q.len()
	if depth == 0 {
		delete(e.queues, deviceID)
		if e.metrics != nil {
			e.metrics.QueueDepth.DeleteLabelValues(deviceID)
		}
		return
	}
	if e.metrics != nil {
		e.metrics.QueueDepth.WithLabelValues(deviceID).Set(float64(depth))
	}
}

// reloadPending restores the queues from the durable log after restart.
// Commands caught mid-execution are treated as pending again; drivers
// are idempotent on target values, so a re-run is safe.
func (e *Engine) reloadPending(ctx context.Context) error {
	pending, err := e.repo.FindPending(ctx)
	if err != nil {
		return fmt.Errorf("reloading pending commands: %w", err)
	}

	for i := range pending {
		cmd := pending[i]
		if cmd.Status == StatusExecuting {
			cmd.Status = StatusPending
			if err := e.repo.UpdateStatus(ctx, &cmd); err != nil {
				return fmt.Errorf("resetting interrupted command %s: %w", cmd.ID, err)
			}
		}
		e.enqueue(&cmd, time.Time{})
	}

	if len(pending) > 0 {
		e.logger.Info("pending commands reloaded", "count", len(pending))
	}
	return nil
}

// dispatchLoop is the engine's single dispatcher goroutine. It wakes on
// enqueue and on a bounded idle tick; the tick catches retries whose
// backoff has elapsed without requiring per-retry timers.
func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.dispatchTick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		case <-ticker.C:
		}
		e.dispatchReady()
	}
}

// dispatchReady starts execution for every device whose queue head is
// due and which has no command in flight. The in-flight marker is set
// under the same lock as the pop, so two executions can never race on
// one device.
func (e *Engine) dispatchReady() {
	now := time.Now()

	e.mu.Lock()
	var ready []*Command
	for deviceID, q := range e.queues {
		if _, busy := e.inflight[deviceID]; busy {
			continue
		}
		head, ok := q.peek()
		if !ok || head.readyAt.After(now) {
			continue
		}
		q.pop()
		e.inflight[deviceID] = struct{}{}
		ready = append(ready, head.cmd)
		e.updateDepth(deviceID, q)
	}
	e.mu.Unlock()

	for _, cmd := range ready {
		e.wg.Add(1)
		go e.execute(cmd)
	}
}

// execute runs one command through its driver and settles the outcome.
//
// Executions deliberately do not inherit the dispatcher's context: Stop
// cancels the dispatch loop but drains in-flight calls through the
// WaitGroup, and a settle transition must persist even during shutdown.
// The driver call is still bounded by the engine-wide command timeout.
func (e *Engine) execute(cmd *Command) {
	ctx := context.Background()
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, cmd.DeviceID)
		e.mu.Unlock()

		// The freed device may have more queued work.
		select {
		case e.wake <- struct{}{}:
		default:
		}
	}()

	now := time.Now().UTC()
	cmd.Status = StatusExecuting
	cmd.ExecutedAt = &now
	if err := e.repo.UpdateStatus(ctx, cmd); err != nil {
		e.logger.Error("persisting executing status", "id", cmd.ID, "error", err)
	}

	dev, err := e.devices.GetDevice(ctx, cmd.DeviceID)
	if err != nil {
		e.settleFailure(ctx, cmd, nil, fmt.Errorf("%w: %w", ErrDriver, err))
		return
	}
	e.notifyStatus(cmd, dev, nil)

	drv, err := e.drivers.ForDevice(dev)
	if err != nil {
		e.settleFailure(ctx, cmd, dev, fmt.Errorf("%w: %w", ErrDriver, err))
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.commandTimeout())
	result, execErr := drv.SendCommand(callCtx, dev, cmd.Name, cmd.Parameters)
	cancel()

	if execErr != nil {
		e.settleFailure(ctx, cmd, dev, classifyExecError(execErr))
		return
	}

	e.settleSuccess(ctx, cmd, dev, result)
}

// settleSuccess marks a command completed and applies its confirmed state.
func (e *Engine) settleSuccess(ctx context.Context, cmd *Command, dev *device.Device, result driver.Result) {
	now := time.Now().UTC()
	cmd.Status = StatusCompleted
	cmd.Error = ""
	cmd.CompletedAt = &now
	if err := e.repo.UpdateStatus(ctx, cmd); err != nil {
		e.logger.Error("persisting completed status", "id", cmd.ID, "error", err)
	}

	if len(result.State) > 0 {
		change, err := e.devices.ApplyState(ctx, dev.ID, result.State, nil, device.StateHistorySourceCommand)
		if err != nil {
			e.logger.Warn("applying confirmed state", "id", cmd.ID, "error", err)
		} else if e.onState != nil {
			e.onState(change)
		}
	}

	if e.metrics != nil {
		protocol := string(dev.Protocol)
		e.metrics.CommandsCompleted.WithLabelValues(protocol).Inc()
		if cmd.ExecutedAt != nil {
			e.metrics.CommandDuration.WithLabelValues(protocol).
				Observe(now.Sub(*cmd.ExecutedAt).Seconds())
		}
	}

	e.publishTerminal(cmd, result.State)
	e.logger.Info("command completed",
		"id", cmd.ID, "device", cmd.DeviceID, "name", cmd.Name, "retries", cmd.RetryCount)
}

// settleFailure either schedules a retry with exponential backoff or
// marks the command terminally failed.
func (e *Engine) settleFailure(ctx context.Context, cmd *Command, dev *device.Device, execErr error) {
	cmd.Error = execErr.Error()
	protocol := "unknown"
	if dev != nil {
		protocol = string(dev.Protocol)
	}

	retryable := errors.Is(execErr, ErrTimeout) || errors.Is(execErr, ErrDriver)
	if retryable && cmd.RetryCount < cmd.MaxRetries {
		delay := e.backoffDelay(cmd.RetryCount)
		cmd.RetryCount++
		cmd.Status = StatusPending
		if err := e.repo.UpdateStatus(ctx, cmd); err != nil {
			e.logger.Error("persisting retry status", "id", cmd.ID, "error", err)
		}
		if e.metrics != nil {
			e.metrics.CommandsRetried.WithLabelValues(protocol).Inc()
		}

		e.enqueue(cmd, time.Now().Add(delay))
		e.logger.Warn("command retry scheduled",
			"id", cmd.ID, "retry", cmd.RetryCount, "of", cmd.MaxRetries,
			"delay", delay.String(), "error", execErr)
		return
	}

	now := time.Now().UTC()
	cmd.Status = StatusFailed
	cmd.CompletedAt = &now
	if err := e.repo.UpdateStatus(ctx, cmd); err != nil {
		e.logger.Error("persisting failed status", "id", cmd.ID, "error", err)
	}

	if e.metrics != nil {
		e.metrics.CommandsFailed.WithLabelValues(protocol, failureReason(execErr)).Inc()
		if cmd.ExecutedAt != nil {
			e.metrics.CommandDuration.WithLabelValues(protocol).
				Observe(now.Sub(*cmd.ExecutedAt).Seconds())
		}
	}

	e.publishTerminal(cmd, nil)
	e.logger.Error("command failed",
		"id", cmd.ID, "device", cmd.DeviceID, "name", cmd.Name,
		"retries", cmd.RetryCount, "error", execErr)
}

// publishTerminal reports a terminal status on the device's response
// topic and through the fanout callback.
func (e *Engine) publishTerminal(cmd *Command, state device.State) {
	dev, err := e.devices.GetDevice(context.Background(), cmd.DeviceID)
	if err != nil {
		dev = &device.Device{ID: cmd.DeviceID}
	}

	ev := StatusEvent{
		Command:   *cmd,
		HomeID:    dev.HomeID,
		UserID:    dev.UserID,
		State:     state,
		Timestamp: time.Now().UTC(),
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("marshalling status event", "id", cmd.ID, "error", err)
		return
	}
	if err := e.pub.Publish(e.topics.DeviceResponses(cmd.DeviceID), payload, 1, false); err != nil {
		e.logger.Warn("publishing command response",
			"id", cmd.ID, "error", fmt.Errorf("%w: %w", ErrTransport, err))
	}

	if e.onStatus != nil {
		e.onStatus(ev)
	}
}

// notifyStatus delivers a non-terminal status change to the fanout hub.
func (e *Engine) notifyStatus(cmd *Command, dev *device.Device, state device.State) {
	if e.onStatus == nil {
		return
	}
	e.onStatus(StatusEvent{
		Command:   *cmd,
		HomeID:    dev.HomeID,
		UserID:    dev.UserID,
		State:     state,
		Timestamp: time.Now().UTC(),
	})
}

// classifyExecError maps driver failures onto the engine's taxonomy.
func classifyExecError(err error) error {
	switch {
	case errors.Is(err, driver.ErrResponseTimeout) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, driver.ErrUnsupportedCommand):
		// The driver cannot map the command at all: retrying cannot help.
		return fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return fmt.Errorf("%w: %w", ErrDriver, err)
	}
}

// failureReason buckets an execution error for the failure counter.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "driver"
	}
}

// backoffDelay computes the exponential retry delay base * 2^retryCount.
func (e *Engine) backoffDelay(retryCount int) time.Duration {
	base := defaultBackoffBase
	if e.cfg.RetryBackoffBaseMs > 0 {
		base = time.Duration(e.cfg.RetryBackoffBaseMs) * time.Millisecond
	}
	return base << uint(retryCount)
}

func (e *Engine) dispatchTick() time.Duration {
	if e.cfg.DispatchTickMs > 0 {
		return time.Duration(e.cfg.DispatchTickMs) * time.Millisecond
	}
	return defaultDispatchTick
}

func (e *Engine) commandTimeout() time.Duration {
	if e.cfg.CommandTimeout > 0 {
		return time.Duration(e.cfg.CommandTimeout) * time.Second
	}
	return defaultCommandTimeout
}

func (e *Engine) defaultMaxRetries() int {
	if e.cfg.DefaultMaxRetries > 0 {
		return e.cfg.DefaultMaxRetries
	}
	return defaultMaxRetries
}
