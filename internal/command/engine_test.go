package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
)

// memDeviceRepo is an in-memory device.Repository backing the registry
// in engine tests.
type memDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*device.Device
}

func newMemDeviceRepo(devices ...*device.Device) *memDeviceRepo {
	r := &memDeviceRepo{devices: make(map[string]*device.Device)}
	for _, d := range devices {
		r.devices[d.ID] = d
	}
	return r
}

func (r *memDeviceRepo) GetByID(_ context.Context, id string) (*device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (r *memDeviceRepo) List(_ context.Context) ([]device.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d.DeepCopy())
	}
	return out, nil
}

func (r *memDeviceRepo) ListByHome(ctx context.Context, homeID string) ([]device.Device, error) {
	all, _ := r.List(ctx)
	var out []device.Device
	for _, d := range all {
		if d.HomeID == homeID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDeviceRepo) ListByProtocol(ctx context.Context, protocol device.Protocol) ([]device.Device, error) {
	all, _ := r.List(ctx)
	var out []device.Device
	for _, d := range all {
		if d.Protocol == protocol {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDeviceRepo) Create(_ context.Context, d *device.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = d.DeepCopy()
	return nil
}

func (r *memDeviceRepo) Update(_ context.Context, d *device.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID] = d.DeepCopy()
	return nil
}

func (r *memDeviceRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
	return nil
}

func (r *memDeviceRepo) UpdateState(_ context.Context, id string, delta device.State, version int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	if d.State == nil {
		d.State = device.State{}
	}
	for k, v := range delta {
		d.State[k] = v
	}
	d.StateVersion = version
	return nil
}

func (r *memDeviceRepo) UpdateOnline(_ context.Context, id string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.Online = online
	}
	return nil
}

func (r *memDeviceRepo) UpdatePaired(_ context.Context, id string, paired bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.Paired = paired
	}
	return nil
}

// memCmdRepo is an in-memory command log.
type memCmdRepo struct {
	mu       sync.Mutex
	commands map[string]Command
	seed     []Command
}

func newMemCmdRepo() *memCmdRepo {
	return &memCmdRepo{commands: make(map[string]Command)}
}

func (r *memCmdRepo) Create(_ context.Context, cmd *Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.ID] = *cmd
	return nil
}

func (r *memCmdRepo) UpdateStatus(_ context.Context, cmd *Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.ID] = *cmd
	return nil
}

func (r *memCmdRepo) GetByID(_ context.Context, id string) (*Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.commands[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &cmd, nil
}

func (r *memCmdRepo) FindPending(_ context.Context) ([]Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.seed...), nil
}

func (r *memCmdRepo) ListByDevice(_ context.Context, deviceID string, _ int) ([]Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Command
	for _, cmd := range r.commands {
		if cmd.DeviceID == deviceID {
			out = append(out, cmd)
		}
	}
	return out, nil
}

func (r *memCmdRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}

// stubDriver answers SendCommand through a configurable function and
// records call order. sendCtx takes precedence over send when a test
// needs to observe the call's context.
type stubDriver struct {
	mu      sync.Mutex
	calls   []string
	times   []time.Time
	send    func(call int, command string) (driver.Result, error)
	sendCtx func(ctx context.Context, call int, command string) (driver.Result, error)
}

func (d *stubDriver) Protocol() device.Protocol { return device.ProtocolZigbee }

func (d *stubDriver) Discover(context.Context) ([]driver.PartialDevice, error) {
	return nil, nil
}
func (d *stubDriver) Pair(context.Context, *device.Device) error   { return nil }
func (d *stubDriver) Unpair(context.Context, *device.Device) error { return nil }

func (d *stubDriver) SendCommand(ctx context.Context, _ *device.Device, command string, _ map[string]any) (driver.Result, error) {
	d.mu.Lock()
	call := len(d.calls)
	d.calls = append(d.calls, command)
	d.times = append(d.times, time.Now())
	send := d.send
	sendCtx := d.sendCtx
	d.mu.Unlock()

	if sendCtx != nil {
		return sendCtx(ctx, call, command)
	}
	if send != nil {
		return send(call, command)
	}
	return driver.Result{}, nil
}

func (d *stubDriver) ReadAttribute(context.Context, *device.Device, string) (any, error) {
	return nil, driver.ErrAttributeNotFound
}

func (d *stubDriver) WriteAttribute(context.Context, *device.Device, string, any) error {
	return nil
}

func (d *stubDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *stubDriver) callOrder() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *stubDriver) callTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.times...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(topic string, _ []byte, _ byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

func engineTestDevice() *device.Device {
	now := time.Now().UTC()
	minB, maxB := 0.0, 100.0
	return &device.Device{
		ID:       "dev-1",
		Name:     "Living Room Lamp",
		Protocol: device.ProtocolZigbee,
		Address:  map[string]any{"ieee_address": "00:11:22:33:44:55:66:77"},
		HomeID:   "home-1",
		UserID:   "user-1",
		Capabilities: []device.Capability{
			{Name: "power", Type: device.CapabilityBool, Readable: true, Writable: true},
			{Name: "brightness", Type: device.CapabilityNumber, Readable: true, Writable: true, Min: &minB, Max: &maxB},
			{Name: "temperature", Type: device.CapabilityNumber, Readable: true, Writable: false},
		},
		State:     device.State{},
		Online:    true,
		Paired:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

type engineFixture struct {
	engine  *Engine
	devices *device.Registry
	drv     *stubDriver
	repo    *memCmdRepo
	pub     *recordingPublisher
}

func newEngineFixture(t *testing.T, dev *device.Device) *engineFixture {
	t.Helper()

	devRepo := newMemDeviceRepo()
	if dev != nil {
		devRepo.devices[dev.ID] = dev
	}
	registry := device.NewRegistry(devRepo)
	if err := registry.RefreshCache(context.Background()); err != nil {
		t.Fatalf("refresh cache: %v", err)
	}

	drv := &stubDriver{}
	drivers, err := driver.NewRegistry(drv)
	if err != nil {
		t.Fatalf("driver registry: %v", err)
	}

	repo := newMemCmdRepo()
	pub := &recordingPublisher{}

	cfg := config.EngineConfig{
		DispatchTickMs:     5,
		CommandTimeout:     1,
		RetryBackoffBaseMs: 10,
		DefaultMaxRetries:  2,
	}
	return &engineFixture{
		engine:  NewEngine(cfg, registry, drivers, repo, pub),
		devices: registry,
		drv:     drv,
		repo:    repo,
		pub:     pub,
	}
}

func (f *engineFixture) start(t *testing.T) {
	t.Helper()
	if err := f.engine.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(f.engine.Stop)
}

// waitForStatus polls the durable log until the command reaches the
// wanted status.
func (f *engineFixture) waitForStatus(t *testing.T, id string, want Status) *Command {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cmd, err := f.repo.GetByID(context.Background(), id)
		if err == nil && cmd.Status == want {
			return cmd
		}
		time.Sleep(2 * time.Millisecond)
	}
	cmd, _ := f.repo.GetByID(context.Background(), id)
	t.Fatalf("command %s never reached %s (last: %+v)", id, want, cmd)
	return nil
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())
	f.start(t)

	offline := engineTestDevice()
	offline.ID = "dev-offline"
	offline.Online = false
	unpaired := engineTestDevice()
	unpaired.ID = "dev-unpaired"
	unpaired.Paired = false
	for _, d := range []*device.Device{offline, unpaired} {
		if err := f.devices.CreateDevice(context.Background(), d); err != nil {
			t.Fatalf("create device: %v", err)
		}
	}

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "unknown device",
			req:     Request{DeviceID: "nope", Name: "set_power", Parameters: map[string]any{"value": true}},
			wantErr: device.ErrDeviceNotFound,
		},
		{
			name:    "missing device id",
			req:     Request{Name: "set_power"},
			wantErr: ErrValidation,
		},
		{
			name:    "missing name",
			req:     Request{DeviceID: "dev-1"},
			wantErr: ErrValidation,
		},
		{
			name:    "priority above range",
			req:     Request{DeviceID: "dev-1", Name: "set_power", Priority: 11, Parameters: map[string]any{"value": true}},
			wantErr: ErrValidation,
		},
		{
			name:    "priority below range",
			req:     Request{DeviceID: "dev-1", Name: "set_power", Priority: -1, Parameters: map[string]any{"value": true}},
			wantErr: ErrValidation,
		},
		{
			name:    "offline device",
			req:     Request{DeviceID: "dev-offline", Name: "set_power", Parameters: map[string]any{"value": true}},
			wantErr: ErrDeviceOffline,
		},
		{
			name:    "unpaired device",
			req:     Request{DeviceID: "dev-unpaired", Name: "set_power", Parameters: map[string]any{"value": true}},
			wantErr: ErrDeviceNotPaired,
		},
		{
			name:    "unknown capability",
			req:     Request{DeviceID: "dev-1", Name: "set_volume", Parameters: map[string]any{"value": 3}},
			wantErr: ErrValidation,
		},
		{
			name:    "read-only capability",
			req:     Request{DeviceID: "dev-1", Name: "set_temperature", Parameters: map[string]any{"value": 21.5}},
			wantErr: ErrValidation,
		},
		{
			name:    "value out of range",
			req:     Request{DeviceID: "dev-1", Name: "set_brightness", Parameters: map[string]any{"value": 150}},
			wantErr: ErrValidation,
		},
		{
			name:    "wrong value type",
			req:     Request{DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": "on"}},
			wantErr: ErrValidation,
		},
		{
			name:    "missing value parameter",
			req:     Request{DeviceID: "dev-1", Name: "set_brightness"},
			wantErr: ErrValidation,
		},
		{
			name:    "negative max retries",
			req:     Request{DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true}, MaxRetries: intPtr(-1)},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Submit(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Submit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// A rejected command is never persisted or dispatched.
	if f.repo.count() != 0 {
		t.Errorf("command log has %d entries, want 0", f.repo.count())
	}
	if f.drv.callCount() != 0 {
		t.Errorf("driver called %d times, want 0", f.drv.callCount())
	}
}

func TestSubmitRejectedBeforeStart(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())

	_, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true},
	})
	if !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Submit before Start error = %v, want ErrEngineStopped", err)
	}
}

func TestCommandExecutesAndAppliesState(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())
	f.drv.send = func(int, string) (driver.Result, error) {
		return driver.Result{State: device.State{"power": true}}, nil
	}
	f.start(t)

	cmd, err := f.engine.Submit(context.Background(), Request{
		DeviceID:   "dev-1",
		Name:       "set_power",
		Parameters: map[string]any{"value": true},
		Priority:   5,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := f.waitForStatus(t, cmd.ID, StatusCompleted)
	if done.ExecutedAt == nil || done.CompletedAt == nil {
		t.Error("terminal command should carry execution timestamps")
	}
	if done.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", done.RetryCount)
	}

	dev, err := f.devices.GetDevice(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("get device: %v", err)
	}
	if dev.State["power"] != true {
		t.Errorf("device state power = %v, want true", dev.State["power"])
	}
	if dev.StateVersion != 1 {
		t.Errorf("state version = %d, want 1", dev.StateVersion)
	}

	var sawResponse bool
	for _, topic := range f.pub.published() {
		if topic == "devices/dev-1/responses" {
			sawResponse = true
		}
	}
	if !sawResponse {
		t.Error("terminal status was not published on devices/dev-1/responses")
	}
}

func TestSingleFlightPerDevice(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())

	gate := make(chan struct{})
	f.drv.send = func(call int, _ string) (driver.Result, error) {
		if call == 0 {
			<-gate
		}
		return driver.Result{}, nil
	}
	f.start(t)

	first, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true},
	})
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	second, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": false},
	})
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	// Give the dispatcher time to (incorrectly) start the second
	// command if it were going to.
	time.Sleep(50 * time.Millisecond)
	if got := f.drv.callCount(); got != 1 {
		t.Fatalf("driver calls while first in flight = %d, want 1", got)
	}
	if cmd, _ := f.repo.GetByID(context.Background(), second.ID); cmd.Status != StatusPending {
		t.Errorf("second command status = %s, want pending", cmd.Status)
	}

	close(gate)
	f.waitForStatus(t, first.ID, StatusCompleted)
	f.waitForStatus(t, second.ID, StatusCompleted)
}

func TestPriorityOrderAcrossQueue(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())

	gate := make(chan struct{})
	f.drv.send = func(call int, _ string) (driver.Result, error) {
		if call == 0 {
			<-gate
		}
		return driver.Result{}, nil
	}
	f.start(t)

	// Occupy the device so the next two submissions queue up.
	hold, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true},
	})
	if err != nil {
		t.Fatalf("submit hold: %v", err)
	}

	low, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_brightness", Parameters: map[string]any{"value": 10}, Priority: 1,
	})
	if err != nil {
		t.Fatalf("submit low: %v", err)
	}
	high, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_brightness", Parameters: map[string]any{"value": 90}, Priority: 9,
	})
	if err != nil {
		t.Fatalf("submit high: %v", err)
	}

	close(gate)
	f.waitForStatus(t, hold.ID, StatusCompleted)
	f.waitForStatus(t, high.ID, StatusCompleted)
	f.waitForStatus(t, low.ID, StatusCompleted)

	order := f.drv.callOrder()
	if len(order) != 3 {
		t.Fatalf("driver calls = %d, want 3", len(order))
	}
	// The high-priority submission overtakes the earlier low-priority one.
	highDone := f.waitForStatus(t, high.ID, StatusCompleted)
	lowDone := f.waitForStatus(t, low.ID, StatusCompleted)
	if !highDone.CompletedAt.Before(*lowDone.CompletedAt) {
		t.Errorf("high priority completed at %v, after low priority at %v",
			highDone.CompletedAt, lowDone.CompletedAt)
	}
}

func TestRetriesWithBackoffUntilExhausted(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())
	f.drv.send = func(int, string) (driver.Result, error) {
		return driver.Result{}, driver.ErrResponseTimeout
	}
	f.start(t)

	cmd, err := f.engine.Submit(context.Background(), Request{
		DeviceID:   "dev-1",
		Name:       "set_power",
		Parameters: map[string]any{"value": true},
		MaxRetries: intPtr(2),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	failed := f.waitForStatus(t, cmd.ID, StatusFailed)
	if failed.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", failed.RetryCount)
	}
	if !strings.Contains(failed.Error, "timeout") {
		t.Errorf("failure error = %q, want a timeout", failed.Error)
	}
	if got := f.drv.callCount(); got != 3 {
		t.Errorf("driver attempts = %d, want 3 (initial + 2 retries)", got)
	}

	// Backoff doubles: the second gap must be at least as long as the
	// first (10ms then 20ms with the test base).
	times := f.drv.callTimes()
	gap1 := times[1].Sub(times[0])
	gap2 := times[2].Sub(times[1])
	if gap1 < 10*time.Millisecond {
		t.Errorf("first retry after %v, want >= 10ms", gap1)
	}
	if gap2 < 20*time.Millisecond {
		t.Errorf("second retry after %v, want >= 20ms", gap2)
	}
}

func TestUnsupportedCommandNotRetried(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())
	f.drv.send = func(int, string) (driver.Result, error) {
		return driver.Result{}, driver.ErrUnsupportedCommand
	}
	f.start(t)

	cmd, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "identify", Parameters: map[string]any{},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	failed := f.waitForStatus(t, cmd.ID, StatusFailed)
	if failed.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", failed.RetryCount)
	}
	if got := f.drv.callCount(); got != 1 {
		t.Errorf("driver attempts = %d, want 1", got)
	}
}

func TestCancelPendingCommand(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())

	gate := make(chan struct{})
	f.drv.send = func(call int, _ string) (driver.Result, error) {
		if call == 0 {
			<-gate
		}
		return driver.Result{}, nil
	}
	f.start(t)

	hold, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true},
	})
	if err != nil {
		t.Fatalf("submit hold: %v", err)
	}
	waiting, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": false},
	})
	if err != nil {
		t.Fatalf("submit queued: %v", err)
	}

	cancelled, err := f.engine.Cancel(context.Background(), waiting.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusFailed || cancelled.Error != "cancelled" {
		t.Errorf("cancelled command = %s %q, want failed \"cancelled\"", cancelled.Status, cancelled.Error)
	}

	// Not pending any more.
	if _, err := f.engine.Cancel(context.Background(), waiting.ID); !errors.Is(err, ErrNotPending) {
		t.Errorf("second cancel error = %v, want ErrNotPending", err)
	}

	close(gate)
	f.waitForStatus(t, hold.ID, StatusCompleted)

	// The cancelled command never reached the driver.
	if got := f.drv.callCount(); got != 1 {
		t.Fatalf("driver calls = %d, want 1 (cancelled command executed)", got)
	}
}

func TestRetryFailedCommand(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())
	f.drv.send = func(call int, _ string) (driver.Result, error) {
		if call == 0 {
			return driver.Result{}, driver.ErrUnsupportedCommand
		}
		return driver.Result{}, nil
	}
	f.start(t)

	cmd, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "identify", Parameters: map[string]any{},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.waitForStatus(t, cmd.ID, StatusFailed)

	retried, err := f.engine.Retry(context.Background(), cmd.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.RetryCount != 1 {
		t.Errorf("retry count after manual retry = %d, want 1", retried.RetryCount)
	}

	done := f.waitForStatus(t, cmd.ID, StatusCompleted)
	if done.Error != "" {
		t.Errorf("completed command carries error %q", done.Error)
	}

	// Retrying a completed command is rejected.
	if _, err := f.engine.Retry(context.Background(), cmd.ID); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("retry of completed error = %v, want ErrNotRetryable", err)
	}
}

func TestSubmitBulkIndependence(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())
	f.start(t)

	results := f.engine.SubmitBulk(context.Background(), []Request{
		{DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true}},
		{DeviceID: "missing", Name: "set_power", Parameters: map[string]any{"value": true}},
		{DeviceID: "dev-1", Name: "set_brightness", Parameters: map[string]any{"value": 40}},
	})

	if results[0].Err != nil || results[0].Command == nil {
		t.Errorf("result 0 = %v, %v, want accepted", results[0].Command, results[0].Err)
	}
	if !errors.Is(results[1].Err, device.ErrDeviceNotFound) {
		t.Errorf("result 1 error = %v, want ErrDeviceNotFound", results[1].Err)
	}
	if results[2].Err != nil || results[2].Command == nil {
		t.Errorf("result 2 = %v, %v, want accepted", results[2].Command, results[2].Err)
	}

	f.waitForStatus(t, results[0].Command.ID, StatusCompleted)
	f.waitForStatus(t, results[2].Command.ID, StatusCompleted)
}

func TestStartReloadsPendingCommands(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())

	now := time.Now().UTC()
	interrupted := Command{
		ID: "cmd-interrupted", DeviceID: "dev-1", Name: "set_power",
		Parameters: map[string]any{"value": true},
		Status:     StatusExecuting, MaxRetries: 2, CreatedAt: now,
	}
	pending := Command{
		ID: "cmd-pending", DeviceID: "dev-1", Name: "set_brightness",
		Parameters: map[string]any{"value": 60},
		Status:     StatusPending, MaxRetries: 2, CreatedAt: now.Add(time.Second),
	}
	f.repo.commands[interrupted.ID] = interrupted
	f.repo.commands[pending.ID] = pending
	f.repo.seed = []Command{interrupted, pending}

	f.start(t)

	f.waitForStatus(t, "cmd-interrupted", StatusCompleted)
	f.waitForStatus(t, "cmd-pending", StatusCompleted)
}

func TestHaltIntakeRejectsNewWork(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())
	f.start(t)

	f.engine.HaltIntake(errors.New("transport gone"))

	_, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true},
	})
	if !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Submit after halt error = %v, want ErrEngineStopped", err)
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	f := newEngineFixture(t, nil)

	want := []time.Duration{10, 20, 40, 80}
	for k, ms := range want {
		if got := f.engine.backoffDelay(k); got != ms*time.Millisecond {
			t.Errorf("backoffDelay(%d) = %v, want %v", k, got, ms*time.Millisecond)
		}
	}
}

func TestSubmitReturnsDetachedCommand(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())
	f.start(t)

	accepted, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Serialising the accepted command while the dispatcher executes it
	// must be safe: the caller's copy is detached from engine state.
	deadline := time.Now().Add(2 * time.Second)
	completed := false
	for time.Now().Before(deadline) && !completed {
		if _, err := json.Marshal(accepted); err != nil {
			t.Fatalf("marshal accepted command: %v", err)
		}
		if cmd, err := f.repo.GetByID(context.Background(), accepted.ID); err == nil && cmd.Status == StatusCompleted {
			completed = true
		}
	}
	if !completed {
		t.Fatal("command never completed")
	}

	if accepted.Status != StatusPending {
		t.Errorf("caller's copy status = %s, want pending (engine mutated the returned struct)", accepted.Status)
	}
	if accepted.ExecutedAt != nil || accepted.CompletedAt != nil {
		t.Error("caller's copy carries execution timestamps it was returned without")
	}
}

func TestRetryReturnsDetachedCommand(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())
	f.drv.send = func(call int, _ string) (driver.Result, error) {
		if call == 0 {
			return driver.Result{}, driver.ErrUnsupportedCommand
		}
		return driver.Result{}, nil
	}
	f.start(t)

	cmd, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "identify", Parameters: map[string]any{},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.waitForStatus(t, cmd.ID, StatusFailed)

	retried, err := f.engine.Retry(context.Background(), cmd.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	f.waitForStatus(t, cmd.ID, StatusCompleted)

	if retried.Status != StatusPending {
		t.Errorf("retry's copy status = %s, want pending (engine mutated the returned struct)", retried.Status)
	}
}

func TestStopDrainsInFlightExecution(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())

	started := make(chan struct{})
	f.drv.sendCtx = func(ctx context.Context, call int, _ string) (driver.Result, error) {
		if call == 0 {
			close(started)
		}
		// Simulate a slow driver round trip. A premature cancellation
		// from Stop would surface here as ctx.Err().
		select {
		case <-ctx.Done():
			return driver.Result{}, ctx.Err()
		case <-time.After(80 * time.Millisecond):
			return driver.Result{State: device.State{"power": true}}, nil
		}
	}
	f.start(t)

	cmd, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	f.engine.Stop()

	// Stop returns only after the in-flight call drained, and the
	// terminal transition is persisted despite the shutdown.
	done, err := f.repo.GetByID(context.Background(), cmd.ID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Fatalf("command status after Stop = %s (error %q), want completed", done.Status, done.Error)
	}
}

func TestDrainedQueuesPruned(t *testing.T) {
	f := newEngineFixture(t, engineTestDevice())

	gate := make(chan struct{})
	f.drv.send = func(call int, _ string) (driver.Result, error) {
		if call == 0 {
			<-gate
		}
		return driver.Result{}, nil
	}
	f.start(t)

	hold, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": true},
	})
	if err != nil {
		t.Fatalf("submit hold: %v", err)
	}
	waiting, err := f.engine.Submit(context.Background(), Request{
		DeviceID: "dev-1", Name: "set_power", Parameters: map[string]any{"value": false},
	})
	if err != nil {
		t.Fatalf("submit queued: %v", err)
	}

	// Cancelling the only queued command empties the device's queue.
	if _, err := f.engine.Cancel(context.Background(), waiting.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	close(gate)
	f.waitForStatus(t, hold.ID, StatusCompleted)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.engine.mu.Lock()
		remaining := len(f.engine.queues)
		f.engine.mu.Unlock()
		if remaining == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	f.engine.mu.Lock()
	remaining := len(f.engine.queues)
	f.engine.mu.Unlock()
	t.Fatalf("drained queues still tracked: %d entries", remaining)
}

func intPtr(v int) *int { return &v }
