package zwave

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/mqtt"
)

// mockTransport is a loopback transport: published requests are answered
// by a configurable bridge function, delivered through the subscribed
// response handler as a real bridge would.
type mockTransport struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	bridge   func(topic string, req driver.Request) *driver.Response
	requests []driver.Request
}

func newMockTransport(bridge func(topic string, req driver.Request) *driver.Response) *mockTransport {
	return &mockTransport{
		handlers: make(map[string]mqtt.MessageHandler),
		bridge:   bridge,
	}
}

func (m *mockTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	var req driver.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if mqtt.MatchTopic(pattern, "drivers/zwave/any/responses") {
			handler = h
		}
	}
	m.mu.Unlock()

	resp := m.bridge(topic, req)
	if resp == nil || handler == nil {
		return nil
	}

	resp.RequestID = req.ID
	respPayload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	// Deliver asynchronously, as paho would.
	go handler("drivers/zwave/any/responses", respPayload)
	return nil
}

func (m *mockTransport) Subscribe(pattern string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[pattern] = handler
	return nil
}

func (m *mockTransport) Unsubscribe(pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, pattern)
	return nil
}

func (m *mockTransport) lastRequest() driver.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func testZWaveDevice() *device.Device {
	return &device.Device{
		ID:       "dev-1",
		Name:     "Dimmer",
		Protocol: device.ProtocolZWave,
		Address:  device.Address{"node_id": 12},
		HomeID:   "home-1",
		UserID:   "user-1",
		Online:   true,
		Paired:   true,
	}
}

func newTestDriver(t *testing.T, bridge func(topic string, req driver.Request) *driver.Response) (*Driver, *mockTransport) {
	t.Helper()
	transport := newMockTransport(bridge)
	d := New(config.ZWaveConfig{ResponseTimeout: 2}, transport)
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Close() })
	return d, transport
}

func TestSendCommandScalesLevel(t *testing.T) {
	d, transport := newTestDriver(t, func(_ string, req driver.Request) *driver.Response {
		return &driver.Response{
			Success: true,
			State:   map[string]any{"value": float64(50), "on": true},
		}
	})

	result, err := d.SendCommand(context.Background(), testZWaveDevice(),
		"set_level", map[string]any{"value": 50.0})
	require.NoError(t, err)

	sent := transport.lastRequest()
	assert.Equal(t, "switch_multilevel_set", sent.Command)
	// 0-100 canonical scales to the 0-99 multilevel range.
	assert.Equal(t, float64(49), sent.Parameters["value"])

	// Confirmed state comes back in canonical units.
	assert.Equal(t, true, result.State["power"])
	assert.InDelta(t, 50.0, result.State["level"].(float64), 1.0)
}

func TestSendCommandNodeTopicAddress(t *testing.T) {
	d, _ := newTestDriver(t, func(topic string, req driver.Request) *driver.Response {
		assert.Equal(t, "drivers/zwave/12/commands", topic)
		return &driver.Response{Success: true}
	})

	_, err := d.SendCommand(context.Background(), testZWaveDevice(),
		"set_power", map[string]any{"value": true})
	require.NoError(t, err)
}

func TestSendCommandUnsupported(t *testing.T) {
	d, _ := newTestDriver(t, func(_ string, req driver.Request) *driver.Response {
		t.Fatal("unsupported command must not reach the bridge")
		return nil
	})

	_, err := d.SendCommand(context.Background(), testZWaveDevice(),
		"set_color_temperature", map[string]any{"value": 4000.0})
	assert.ErrorIs(t, err, driver.ErrUnsupportedCommand)
}

func TestSendCommandBridgeFailure(t *testing.T) {
	d, _ := newTestDriver(t, func(_ string, req driver.Request) *driver.Response {
		return &driver.Response{
			Success: false,
			Error:   &driver.ResponseError{Code: driver.CodeDeviceUnreachable, Message: "node asleep"},
		}
	})

	_, err := d.SendCommand(context.Background(), testZWaveDevice(),
		"set_power", map[string]any{"value": true})
	assert.ErrorIs(t, err, driver.ErrDeviceUnreachable)
}

func TestSendCommandMissingNodeID(t *testing.T) {
	d, _ := newTestDriver(t, func(_ string, req driver.Request) *driver.Response {
		return &driver.Response{Success: true}
	})

	dev := testZWaveDevice()
	dev.Address = device.Address{}

	_, err := d.SendCommand(context.Background(), dev,
		"set_power", map[string]any{"value": true})
	assert.ErrorIs(t, err, device.ErrInvalidAddress)
}

func TestWriteAttribute(t *testing.T) {
	d, transport := newTestDriver(t, func(_ string, req driver.Request) *driver.Response {
		return &driver.Response{Success: true}
	})

	err := d.WriteAttribute(context.Background(), testZWaveDevice(), "wakeup_interval", 3600)
	require.NoError(t, err)

	sent := transport.lastRequest()
	assert.Equal(t, driver.OpWrite, sent.Op)
	assert.Equal(t, "wakeup_interval", sent.Attribute)
	assert.Equal(t, float64(3600), sent.Value)
}

func TestDiscoverCollectsNodeAdded(t *testing.T) {
	transport := newMockTransport(func(_ string, req driver.Request) *driver.Response {
		// inclusion open/close both succeed.
		return &driver.Response{Success: true}
	})
	d := New(config.ZWaveConfig{
		BridgeID:        "controller-1",
		InclusionWindow: 1,
		ResponseTimeout: 2,
	}, transport)
	require.NoError(t, d.Start())
	t.Cleanup(func() { _ = d.Close() })

	// Inject a node_added event shortly after the window opens.
	go func() {
		time.Sleep(100 * time.Millisecond)
		ev := driver.Event{
			Type: "node_added",
			Data: map[string]any{
				"node_id":         float64(23),
				"manufacturer":    "Acme",
				"product":         "DIM-7",
				"command_classes": []any{float64(0x26), float64(0x25)},
			},
		}
		payload, _ := json.Marshal(ev)
		transport.mu.Lock()
		handler := transport.handlers["drivers/zwave/+/events"]
		transport.mu.Unlock()
		if handler != nil {
			_ = handler("drivers/zwave/controller-1/events", payload)
		}
	}()

	found, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)

	candidate := found[0]
	assert.Equal(t, device.ProtocolZWave, candidate.Protocol)
	assert.Equal(t, 23, candidate.Address["node_id"])
	assert.Equal(t, "DIM-7", candidate.Model)
	assert.Equal(t, TypeDimmer, candidate.DeviceType)
	assert.ElementsMatch(t, []string{"power", "level"}, capabilityNames(candidate.Capabilities))
}
