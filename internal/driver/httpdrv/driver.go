package httpdrv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
)

const (
	defaultRequestTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a device response is read.
	maxResponseBytes = 256 * 1024
)

// Driver implements the generic HTTP protocol for Wi-Fi devices that
// expose a small JSON control surface:
//
//	GET  {base}/capabilities        capability descriptor
//	POST {base}/commands            {"command": ..., "parameters": ...}
//	GET  {base}/attributes/{name}   raw attribute read
//	PUT  {base}/attributes/{name}   raw attribute write
//
// Target-value commands are idempotent on the device side, so retrying
// a timed-out command is safe.
type Driver struct {
	cfg    config.HTTPConfig
	client *http.Client
	logger driver.Logger
}

// New creates an HTTP driver with a bounded client.
func New(cfg config.HTTPConfig) *Driver {
	timeout := defaultRequestTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	return &Driver{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: driver.NoopLogger{},
	}
}

// SetLogger sets the logger for the driver.
func (d *Driver) SetLogger(logger driver.Logger) {
	d.logger = logger
}

// Protocol returns the protocol identifier this driver serves.
func (d *Driver) Protocol() device.Protocol {
	return device.ProtocolHTTP
}

// capabilityDescriptor is the JSON shape of GET /capabilities.
type capabilityDescriptor struct {
	Name         string              `json:"name"`
	DeviceType   string              `json:"device_type"`
	Manufacturer string              `json:"manufacturer"`
	Model        string              `json:"model"`
	Capabilities []device.Capability `json:"capabilities"`
}

// Discover probes the configured candidate base URLs for a capability
// descriptor. Unreachable candidates are skipped, not errors: absence
// is the common case on a network scan.
func (d *Driver) Discover(ctx context.Context) ([]driver.PartialDevice, error) {
	var found []driver.PartialDevice
	for _, base := range d.cfg.DiscoveryURLs {
		desc, err := d.fetchDescriptor(ctx, base)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			d.logger.Debug("discovery probe failed", "url", base, "error", err)
			continue
		}

		name := desc.Name
		if name == "" {
			name = "HTTP device at " + base
		}
		found = append(found, driver.PartialDevice{
			Protocol:     device.ProtocolHTTP,
			Address:      device.Address{"base_url": strings.TrimRight(base, "/")},
			Name:         name,
			DeviceType:   desc.DeviceType,
			Manufacturer: desc.Manufacturer,
			Model:        desc.Model,
			Capabilities: desc.Capabilities,
		})
		d.logger.Info("http device discovered", "url", base, "type", desc.DeviceType)
	}
	return found, nil
}

// Pair verifies the device is reachable and serving its descriptor.
// HTTP devices have no join procedure; reachability is the association.
func (d *Driver) Pair(ctx context.Context, dev *device.Device) error {
	base, err := baseURL(dev)
	if err != nil {
		return err
	}
	if _, err := d.fetchDescriptor(ctx, base); err != nil {
		return fmt.Errorf("%w: %w", driver.ErrDeviceUnreachable, err)
	}
	return nil
}

// Unpair is a no-op for HTTP devices; there is no association to tear down.
func (d *Driver) Unpair(_ context.Context, _ *device.Device) error {
	return nil
}

// commandResponse is the JSON shape of POST /commands responses.
type commandResponse struct {
	State map[string]any `json:"state"`
	Error string         `json:"error"`
}

// SendCommand POSTs the command to the device and returns the confirmed
// state from the response body.
func (d *Driver) SendCommand(ctx context.Context, dev *device.Device, command string, params map[string]any) (driver.Result, error) {
	base, err := baseURL(dev)
	if err != nil {
		return driver.Result{}, err
	}

	body, err := json.Marshal(map[string]any{
		"command":    command,
		"parameters": params,
	})
	if err != nil {
		return driver.Result{}, fmt.Errorf("marshalling command: %w", err)
	}

	var resp commandResponse
	if err := d.doJSON(ctx, http.MethodPost, base+"/commands", body, &resp); err != nil {
		return driver.Result{}, err
	}
	if resp.Error != "" {
		return driver.Result{}, fmt.Errorf("%w: %s", driver.ErrUnsupportedCommand, resp.Error)
	}

	return driver.Result{State: device.State(resp.State)}, nil
}

// ReadAttribute reads a single attribute from the device.
func (d *Driver) ReadAttribute(ctx context.Context, dev *device.Device, attribute string) (any, error) {
	base, err := baseURL(dev)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Value any `json:"value"`
	}
	target := base + "/attributes/" + url.PathEscape(attribute)
	if err := d.doJSON(ctx, http.MethodGet, target, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Value, nil
}

// WriteAttribute writes a single attribute on the device.
func (d *Driver) WriteAttribute(ctx context.Context, dev *device.Device, attribute string, value any) error {
	base, err := baseURL(dev)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return fmt.Errorf("marshalling attribute value: %w", err)
	}

	target := base + "/attributes/" + url.PathEscape(attribute)
	return d.doJSON(ctx, http.MethodPut, target, body, nil)
}

// fetchDescriptor retrieves and decodes a device's capability descriptor.
func (d *Driver) fetchDescriptor(ctx context.Context, base string) (*capabilityDescriptor, error) {
	var desc capabilityDescriptor
	if err := d.doJSON(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/capabilities", nil, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// doJSON performs one bounded HTTP exchange with JSON bodies.
func (d *Driver) doJSON(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %s %s", driver.ErrResponseTimeout, method, target)
		}
		return fmt.Errorf("%w: %w", driver.ErrDeviceUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", driver.ErrAttributeNotFound, target)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s returned %d", driver.ErrDeviceUnreachable, target, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", driver.ErrMalformedResponse, err)
	}
	return nil
}

// baseURL extracts the device's HTTP endpoint from its address map.
func baseURL(dev *device.Device) (string, error) {
	base, ok := dev.Address["base_url"].(string)
	if !ok || base == "" {
		return "", fmt.Errorf("%w: device %s has no base_url", device.ErrInvalidAddress, dev.ID)
	}
	return strings.TrimRight(base, "/"), nil
}
