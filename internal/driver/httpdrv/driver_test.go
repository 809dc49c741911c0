package httpdrv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
)

// fakeDevice serves the control surface the driver expects.
func fakeDevice(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /capabilities", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(capabilityDescriptor{
			Name:         "Desk Plug",
			DeviceType:   "plug",
			Manufacturer: "Acme",
			Model:        "PLUG-1",
			Capabilities: []device.Capability{
				{Name: "power", Type: device.CapabilityBool, Readable: true, Writable: true},
			},
		})
	})
	mux.HandleFunc("POST /commands", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Command    string         `json:"command"`
			Parameters map[string]any `json:"parameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body.Command != "set_power" {
			_ = json.NewEncoder(w).Encode(commandResponse{Error: "unknown command"})
			return
		}
		_ = json.NewEncoder(w).Encode(commandResponse{
			State: map[string]any{"power": body.Parameters["value"]},
		})
	})
	mux.HandleFunc("GET /attributes/power", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"value": true})
	})
	mux.HandleFunc("PUT /attributes/power", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func httpTestDevice(base string) *device.Device {
	return &device.Device{
		ID:       "dev-1",
		Name:     "Desk Plug",
		Protocol: device.ProtocolHTTP,
		Address:  device.Address{"base_url": base},
		HomeID:   "home-1",
		UserID:   "user-1",
		Online:   true,
		Paired:   true,
	}
}

func TestSendCommand(t *testing.T) {
	srv := fakeDevice(t)
	d := New(config.HTTPConfig{RequestTimeout: 2})

	result, err := d.SendCommand(context.Background(), httpTestDevice(srv.URL),
		"set_power", map[string]any{"value": true})
	require.NoError(t, err)
	assert.Equal(t, true, result.State["power"])
}

func TestSendCommandDeviceError(t *testing.T) {
	srv := fakeDevice(t)
	d := New(config.HTTPConfig{RequestTimeout: 2})

	_, err := d.SendCommand(context.Background(), httpTestDevice(srv.URL),
		"warp_speed", nil)
	assert.ErrorIs(t, err, driver.ErrUnsupportedCommand)
}

func TestSendCommandUnreachable(t *testing.T) {
	d := New(config.HTTPConfig{RequestTimeout: 1})

	_, err := d.SendCommand(context.Background(),
		httpTestDevice("http://127.0.0.1:1"), "set_power", map[string]any{"value": true})
	assert.ErrorIs(t, err, driver.ErrDeviceUnreachable)
}

func TestSendCommandMissingBaseURL(t *testing.T) {
	d := New(config.HTTPConfig{})

	dev := httpTestDevice("")
	dev.Address = device.Address{}

	_, err := d.SendCommand(context.Background(), dev, "set_power", map[string]any{"value": true})
	assert.ErrorIs(t, err, device.ErrInvalidAddress)
}

func TestReadWriteAttribute(t *testing.T) {
	srv := fakeDevice(t)
	d := New(config.HTTPConfig{RequestTimeout: 2})
	dev := httpTestDevice(srv.URL)

	value, err := d.ReadAttribute(context.Background(), dev, "power")
	require.NoError(t, err)
	assert.Equal(t, true, value)

	require.NoError(t, d.WriteAttribute(context.Background(), dev, "power", false))

	err = d.WriteAttribute(context.Background(), dev, "nonexistent", 1)
	assert.ErrorIs(t, err, driver.ErrAttributeNotFound)
}

func TestDiscoverProbesCandidates(t *testing.T) {
	srv := fakeDevice(t)
	d := New(config.HTTPConfig{
		RequestTimeout: 1,
		DiscoveryURLs:  []string{srv.URL, "http://127.0.0.1:1"},
	})

	found, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)

	candidate := found[0]
	assert.Equal(t, device.ProtocolHTTP, candidate.Protocol)
	assert.Equal(t, srv.URL, candidate.Address["base_url"])
	assert.Equal(t, "Desk Plug", candidate.Name)
	assert.Equal(t, "plug", candidate.DeviceType)
	require.Len(t, candidate.Capabilities, 1)
	assert.Equal(t, "power", candidate.Capabilities[0].Name)
}

func TestPair(t *testing.T) {
	srv := fakeDevice(t)
	d := New(config.HTTPConfig{RequestTimeout: 2})

	require.NoError(t, d.Pair(context.Background(), httpTestDevice(srv.URL)))

	err := d.Pair(context.Background(), httpTestDevice("http://127.0.0.1:1"))
	assert.ErrorIs(t, err, driver.ErrDeviceUnreachable)
}
