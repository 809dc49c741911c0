package zwave

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/mqtt"
)

const (
	defaultInclusionWindow = 60 * time.Second
	defaultResponseTimeout = 10 * time.Second
)

// Driver implements the Z-Wave protocol over an MQTT-attached
// controller bridge. Discovery puts the controller into inclusion mode
// for a bounded window and collects node-added events.
type Driver struct {
	cfg       config.ZWaveConfig
	transport driver.Transport
	exchanger *driver.Exchanger
	topics    mqtt.Topics
	logger    driver.Logger
}

// New creates a Z-Wave driver bound to the given transport.
func New(cfg config.ZWaveConfig, transport driver.Transport) *Driver {
	return &Driver{
		cfg:       cfg,
		transport: transport,
		exchanger: driver.NewExchanger(transport, string(device.ProtocolZWave)),
		logger:    driver.NoopLogger{},
	}
}

// SetLogger sets the logger for the driver.
func (d *Driver) SetLogger(logger driver.Logger) {
	d.logger = logger
}

// Start subscribes the driver's exchanger to bridge response topics.
func (d *Driver) Start() error {
	return d.exchanger.Start()
}

// Close releases the driver's transport subscriptions.
func (d *Driver) Close() error {
	return d.exchanger.Close()
}

// Protocol returns the protocol identifier this driver serves.
func (d *Driver) Protocol() device.Protocol {
	return device.ProtocolZWave
}

// Discover puts the controller into inclusion mode and collects
// node-added events published while the window is open.
func (d *Driver) Discover(ctx context.Context) ([]driver.PartialDevice, error) {
	window := d.inclusionWindow()

	var mu sync.Mutex
	var found []driver.PartialDevice

	eventPattern := d.topics.AllDriverEvents(string(device.ProtocolZWave))
	err := d.transport.Subscribe(eventPattern, 1, func(_ string, payload []byte) error {
		var ev driver.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: %w", driver.ErrMalformedResponse, err)
		}
		if ev.Type != "node_added" {
			return nil
		}

		candidate, err := candidateFromNodeAdded(ev.Data)
		if err != nil {
			d.logger.Warn("ignoring malformed node_added event", "error", err)
			return nil
		}

		mu.Lock()
		found = append(found, candidate)
		mu.Unlock()

		d.logger.Info("zwave node discovered",
			"model", candidate.Model, "type", candidate.DeviceType)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", driver.ErrDiscoveryFailed, err)
	}
	defer func() {
		if err := d.transport.Unsubscribe(eventPattern); err != nil {
			d.logger.Warn("unsubscribing from discovery events", "error", err)
		}
	}()

	if err := d.setInclusion(ctx, true); err != nil {
		return nil, fmt.Errorf("%w: %w", driver.ErrDiscoveryFailed, err)
	}

	select {
	case <-time.After(window):
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), d.responseTimeout())
	defer cancel()
	if err := d.setInclusion(stopCtx, false); err != nil {
		d.logger.Warn("stopping inclusion mode", "error", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return found, nil
}

// Pair confirms the node association on the controller.
func (d *Driver) Pair(ctx context.Context, dev *device.Device) error {
	addr, err := nodeAddress(dev)
	if err != nil {
		return err
	}
	return d.exchangeOp(ctx, addr, driver.Request{Op: driver.OpPair, DeviceID: dev.ID})
}

// Unpair excludes the node from the controller's network.
func (d *Driver) Unpair(ctx context.Context, dev *device.Device) error {
	addr, err := nodeAddress(dev)
	if err != nil {
		return err
	}
	return d.exchangeOp(ctx, addr, driver.Request{Op: driver.OpUnpair, DeviceID: dev.ID})
}

// SendCommand translates a canonical command into command-class terms,
// exchanges it with the bridge, and converts the confirmed state back
// into canonical units.
func (d *Driver) SendCommand(ctx context.Context, dev *device.Device, command string, params map[string]any) (driver.Result, error) {
	addr, err := nodeAddress(dev)
	if err != nil {
		return driver.Result{}, err
	}

	bridgeCommand, bridgeParams, err := toProtocol(command, params)
	if err != nil {
		return driver.Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.responseTimeout())
	defer cancel()

	resp, err := d.exchanger.Exchange(callCtx, addr, driver.Request{
		Op:         driver.OpCommand,
		DeviceID:   dev.ID,
		Command:    bridgeCommand,
		Parameters: bridgeParams,
	})
	if err != nil {
		return driver.Result{}, err
	}
	if err := driver.ResponseErr(resp); err != nil {
		return driver.Result{}, err
	}

	return driver.Result{State: stateFromProtocol(resp.State)}, nil
}

// ReadAttribute reads a raw command-class value through the bridge.
func (d *Driver) ReadAttribute(ctx context.Context, dev *device.Device, attribute string) (any, error) {
	addr, err := nodeAddress(dev)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.responseTimeout())
	defer cancel()

	resp, err := d.exchanger.Exchange(callCtx, addr, driver.Request{
		Op:        driver.OpRead,
		DeviceID:  dev.ID,
		Attribute: attribute,
	})
	if err != nil {
		return nil, err
	}
	if err := driver.ResponseErr(resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// WriteAttribute writes a raw command-class value through the bridge.
func (d *Driver) WriteAttribute(ctx context.Context, dev *device.Device, attribute string, value any) error {
	addr, err := nodeAddress(dev)
	if err != nil {
		return err
	}
	return d.exchangeOp(ctx, addr, driver.Request{
		Op:        driver.OpWrite,
		DeviceID:  dev.ID,
		Attribute: attribute,
		Value:     value,
	})
}

// exchangeOp runs a fire-and-confirm exchange with no result payload.
func (d *Driver) exchangeOp(ctx context.Context, addr string, req driver.Request) error {
	callCtx, cancel := context.WithTimeout(ctx, d.responseTimeout())
	defer cancel()

	resp, err := d.exchanger.Exchange(callCtx, addr, req)
	if err != nil {
		return err
	}
	return driver.ResponseErr(resp)
}

// setInclusion starts or stops the controller's inclusion mode.
func (d *Driver) setInclusion(ctx context.Context, enable bool) error {
	callCtx, cancel := context.WithTimeout(ctx, d.responseTimeout())
	defer cancel()

	resp, err := d.exchanger.Exchange(callCtx, d.cfg.BridgeID, driver.Request{
		Op:         driver.OpCommand,
		Command:    "inclusion",
		Parameters: map[string]any{"enable": enable},
	})
	if err != nil {
		return err
	}
	return driver.ResponseErr(resp)
}

func (d *Driver) inclusionWindow() time.Duration {
	if d.cfg.InclusionWindow > 0 {
		return time.Duration(d.cfg.InclusionWindow) * time.Second
	}
	return defaultInclusionWindow
}

func (d *Driver) responseTimeout() time.Duration {
	if d.cfg.ResponseTimeout > 0 {
		return time.Duration(d.cfg.ResponseTimeout) * time.Second
	}
	return defaultResponseTimeout
}

// nodeAddress extracts the topic-addressable node ID from a device's
// protocol address map. Node IDs are stored numerically but addressed
// as decimal strings on the transport.
func nodeAddress(dev *device.Device) (string, error) {
	switch v := dev.Address["node_id"].(type) {
	case float64:
		return strconv.Itoa(int(v)), nil
	case int:
		return strconv.Itoa(v), nil
	case string:
		if v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: device %s has no node_id", device.ErrInvalidAddress, dev.ID)
}

// candidateFromNodeAdded builds a discovery candidate from a node_added
// event's data payload.
func candidateFromNodeAdded(data map[string]any) (driver.PartialDevice, error) {
	nodeID, ok := data["node_id"].(float64)
	if !ok {
		return driver.PartialDevice{}, fmt.Errorf("node_added missing node_id")
	}

	classes := classesFromPayload(data["command_classes"])
	manufacturer, _ := data["manufacturer"].(string)
	model, _ := data["product"].(string)

	name := model
	if name == "" {
		name = "Z-Wave node " + strconv.Itoa(int(nodeID))
	}

	return driver.PartialDevice{
		Protocol:     device.ProtocolZWave,
		Address:      device.Address{"node_id": int(nodeID)},
		Name:         name,
		DeviceType:   ClassifyDeviceType(classes),
		Manufacturer: manufacturer,
		Model:        model,
		Capabilities: InferCapabilities(classes),
	}, nil
}

// classesFromPayload decodes the JSON command class list into IDs.
func classesFromPayload(raw any) []uint8 {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	classes := make([]uint8, 0, len(list))
	for _, v := range list {
		if f, ok := v.(float64); ok && f >= 0 && f <= 0xFF {
			classes = append(classes, uint8(f))
		}
	}
	return classes
}

// toProtocol maps a canonical command and parameters onto the bridge's
// command-class vocabulary.
func toProtocol(command string, params map[string]any) (string, map[string]any, error) {
	switch command {
	case "set_power":
		on, ok := params["value"].(bool)
		if !ok {
			return "", nil, fmt.Errorf("%w: set_power requires bool value", driver.ErrUnsupportedCommand)
		}
		return "switch_binary_set", map[string]any{"on": on}, nil

	case "set_level":
		v, ok := numericParam(params["value"])
		if !ok {
			return "", nil, fmt.Errorf("%w: set_level requires numeric value", driver.ErrUnsupportedCommand)
		}
		return "switch_multilevel_set", map[string]any{"value": int(LevelToZWave(v))}, nil

	case "set_locked":
		locked, ok := params["value"].(bool)
		if !ok {
			return "", nil, fmt.Errorf("%w: set_locked requires bool value", driver.ErrUnsupportedCommand)
		}
		return "door_lock_set", map[string]any{"locked": locked}, nil

	default:
		return "", nil, fmt.Errorf("%w: %s", driver.ErrUnsupportedCommand, command)
	}
}

// stateFromProtocol converts confirmed bridge state into canonical units.
func stateFromProtocol(raw map[string]any) device.State {
	if raw == nil {
		return nil
	}
	state := make(device.State, len(raw))
	for k, v := range raw {
		switch k {
		case "on":
			state["power"] = v
		case "value":
			if f, ok := numericParam(v); ok {
				state["level"] = ZWaveToLevel(uint8(f))
			}
		default:
			state[k] = v
		}
	}
	return state
}

// numericParam normalises JSON and Go numeric types to float64.
func numericParam(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
