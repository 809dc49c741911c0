package zigbee

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/mqtt"
)

const (
	defaultPermitJoinWindow = 60 * time.Second
	defaultResponseTimeout  = 10 * time.Second
)

// Driver implements the Zigbee protocol over an MQTT-attached radio
// bridge. Commands and low-level reads/writes are request/response
// exchanges with the bridge; discovery opens a permit-join window and
// collects interview events.
type Driver struct {
	cfg       config.ZigbeeConfig
	transport driver.Transport
	exchanger *driver.Exchanger
	topics    mqtt.Topics
	logger    driver.Logger
}

// New creates a Zigbee driver bound to the given transport.
func New(cfg config.ZigbeeConfig, transport driver.Transport) *Driver {
	return &Driver{
		cfg:       cfg,
		transport: transport,
		exchanger: driver.NewExchanger(transport, string(device.ProtocolZigbee)),
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
	return device.ProtocolZigbee
}

// Discover opens a permit-join window on the bridge and collects
// interview results published while the window is open.
//
// Returns the candidates seen during the window; an empty slice when
// nothing joined. The window is closed again before returning.
func (d *Driver) Discover(ctx context.Context) ([]driver.PartialDevice, error) {
	window := d.permitJoinWindow()

	var mu sync.Mutex
	var found []driver.PartialDevice

	eventPattern := d.topics.AllDriverEvents(string(device.ProtocolZigbee))
	err := d.transport.Subscribe(eventPattern, 1, func(_ string, payload []byte) error {
		var ev driver.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("%w: %w", driver.ErrMalformedResponse, err)
		}
		if ev.Type != "interview" {
			return nil
		}

		candidate, err := candidateFromInterview(ev.Data)
		if err != nil {
			d.logger.Warn("ignoring malformed interview event", "error", err)
			return nil
		}

		mu.Lock()
		found = append(found, candidate)
		mu.Unlock()

		d.logger.Info("zigbee device discovered",
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

	if err := d.setPermitJoin(ctx, int(window.Seconds())); err != nil {
		return nil, fmt.Errorf("%w: %w", driver.ErrDiscoveryFailed, err)
	}

	select {
	case <-time.After(window):
	case <-ctx.Done():
	}

	// Close the join window regardless of how we got here.
	closeCtx, cancel := context.WithTimeout(context.Background(), d.responseTimeout())
	defer cancel()
	if err := d.setPermitJoin(closeCtx, 0); err != nil {
		d.logger.Warn("closing permit-join window", "error", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return found, nil
}

// Pair asks the bridge to persist its association with the device.
func (d *Driver) Pair(ctx context.Context, dev *device.Device) error {
	addr, err := bridgeAddress(dev)
	if err != nil {
		return err
	}
	return d.exchangeOp(ctx, addr, driver.Request{Op: driver.OpPair, DeviceID: dev.ID})
}

// Unpair asks the bridge to remove the device from its network.
func (d *Driver) Unpair(ctx context.Context, dev *device.Device) error {
	addr, err := bridgeAddress(dev)
	if err != nil {
		return err
	}
	return d.exchangeOp(ctx, addr, driver.Request{Op: driver.OpUnpair, DeviceID: dev.ID})
}

// SendCommand translates a canonical command into ZCL terms, exchanges
// it with the bridge, and converts the confirmed state back into
// canonical units.
func (d *Driver) SendCommand(ctx context.Context, dev *device.Device, command string, params map[string]any) (driver.Result, error) {
	addr, err := bridgeAddress(dev)
	if err != nil {
		return driver.Result{}, err
	}

	bridgeCommand, bridgeParams, err := toProtocol(command, params)
	if err != nil {
		return driver.Result{}, err
	}

	callCtx, cancel := d.withResponseTimeout(ctx)
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

// ReadAttribute reads a raw ZCL attribute through the bridge.
func (d *Driver) ReadAttribute(ctx context.Context, dev *device.Device, attribute string) (any, error) {
	addr, err := bridgeAddress(dev)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := d.withResponseTimeout(ctx)
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

// WriteAttribute writes a raw ZCL attribute through the bridge.
func (d *Driver) WriteAttribute(ctx context.Context, dev *device.Device, attribute string, value any) error {
	addr, err := bridgeAddress(dev)
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
	callCtx, cancel := d.withResponseTimeout(ctx)
	defer cancel()

	resp, err := d.exchanger.Exchange(callCtx, addr, req)
	if err != nil {
		return err
	}
	return driver.ResponseErr(resp)
}

// setPermitJoin opens or closes the bridge's join window.
func (d *Driver) setPermitJoin(ctx context.Context, seconds int) error {
	callCtx, cancel := d.withResponseTimeout(ctx)
	defer cancel()

	resp, err := d.exchanger.Exchange(callCtx, d.cfg.BridgeID, driver.Request{
		Op:         driver.OpCommand,
		Command:    "permit_join",
		Parameters: map[string]any{"duration": seconds},
	})
	if err != nil {
		return err
	}
	return driver.ResponseErr(resp)
}

func (d *Driver) permitJoinWindow() time.Duration {
	if d.cfg.PermitJoinWindow > 0 {
		return time.Duration(d.cfg.PermitJoinWindow) * time.Second
	}
	return defaultPermitJoinWindow
}

func (d *Driver) responseTimeout() time.Duration {
	if d.cfg.ResponseTimeout > 0 {
		return time.Duration(d.cfg.ResponseTimeout) * time.Second
	}
	return defaultResponseTimeout
}

// withResponseTimeout bounds a bridge exchange by the configured
// response deadline without extending the caller's own deadline.
func (d *Driver) withResponseTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.responseTimeout())
}

// bridgeAddress extracts the topic-addressable bridge address from a
// device's protocol address map.
func bridgeAddress(dev *device.Device) (string, error) {
	addr, ok := dev.Address["ieee_address"].(string)
	if !ok || addr == "" {
		return "", fmt.Errorf("%w: device %s has no ieee_address", device.ErrInvalidAddress, dev.ID)
	}
	return addr, nil
}

// candidateFromInterview builds a discovery candidate from an interview
// event's data payload.
func candidateFromInterview(data map[string]any) (driver.PartialDevice, error) {
	ieee, _ := data["ieee_address"].(string)
	if ieee == "" {
		return driver.PartialDevice{}, fmt.Errorf("interview missing ieee_address")
	}

	clusters := clustersFromPayload(data["clusters"])
	manufacturer, _ := data["manufacturer"].(string)
	model, _ := data["model"].(string)

	name := model
	if name == "" {
		name = "Zigbee device " + ieee
	}

	candidate := driver.PartialDevice{
		Protocol:     device.ProtocolZigbee,
		Address:      device.Address{"ieee_address": ieee},
		Name:         name,
		DeviceType:   ClassifyDeviceType(clusters),
		Manufacturer: manufacturer,
		Model:        model,
		Capabilities: InferCapabilities(clusters),
	}
	if nwk, ok := data["network_address"].(float64); ok {
		candidate.Address["network_address"] = int(nwk)
	}
	return candidate, nil
}

// clustersFromPayload decodes the JSON cluster list ([]any of numbers)
// into cluster IDs.
func clustersFromPayload(raw any) []uint16 {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	clusters := make([]uint16, 0, len(list))
	for _, v := range list {
		if f, ok := v.(float64); ok && f >= 0 && f <= 0xFFFF {
			clusters = append(clusters, uint16(f))
		}
	}
	return clusters
}

// toProtocol maps a canonical command and parameters onto the bridge's
// ZCL vocabulary.
func toProtocol(command string, params map[string]any) (string, map[string]any, error) {
	switch command {
	case "set_power":
		on, ok := params["value"].(bool)
		if !ok {
			return "", nil, fmt.Errorf("%w: set_power requires bool value", driver.ErrUnsupportedCommand)
		}
		return "on_off", map[string]any{"on": on}, nil

	case "set_brightness":
		v, ok := numericParam(params["value"])
		if !ok {
			return "", nil, fmt.Errorf("%w: set_brightness requires numeric value", driver.ErrUnsupportedCommand)
		}
		return "move_to_level", map[string]any{"level": int(BrightnessToLevel(v))}, nil

	case "set_color_temperature":
		v, ok := numericParam(params["value"])
		if !ok {
			return "", nil, fmt.Errorf("%w: set_color_temperature requires numeric value", driver.ErrUnsupportedCommand)
		}
		return "move_to_color_temp", map[string]any{"color_temp_mireds": KelvinToMireds(v)}, nil

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
		case "level":
			if f, ok := numericParam(v); ok {
				state["brightness"] = LevelToBrightness(uint8(f))
			}
		case "color_temp_mireds":
			if f, ok := numericParam(v); ok {
				state["color_temperature"] = MiredsToKelvin(int(f))
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
