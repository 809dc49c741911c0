package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hearthbeam/hearth-core/internal/auth"
	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/logging"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/metrics"
)

const testSecret = "hub-test-secret-key-at-least-32-chars!!"

// stubScoper resolves device ownership from a fixed map.
type stubScoper struct {
	homes map[string]string // device ID -> home ID
}

func (s *stubScoper) GetDevice(_ context.Context, id string) (*device.Device, error) {
	homeID, ok := s.homes[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return &device.Device{ID: id, HomeID: homeID, UserID: "user-1"}, nil
}

func testHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	cfg := config.WebSocketConfig{
		Path:           "/ws",
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}
	scoper := &stubScoper{homes: map[string]string{
		"dev-1": "home-1",
		"dev-2": "home-2",
	}}
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "json"}, "test")
	hub := NewHub(cfg, testSecret, scoper, logger)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, token string) string {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	return url
}

func dialSession(t *testing.T, srv *httptest.Server, homeIDs []string) *websocket.Conn {
	t.Helper()
	token, err := auth.GenerateAccessToken("user-1", homeIDs, testSecret, 15)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	if err != nil {
		t.Fatalf("dialing: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, msgType, id string, scopes []string) {
	t.Helper()
	payload, _ := json.Marshal(SubscribePayload{Scopes: scopes})
	frame, _ := json.Marshal(map[string]any{
		"type":    msgType,
		"id":      id,
		"payload": json.RawMessage(payload),
	})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("writing %s frame: %v", msgType, err)
	}
}

// readFrame reads one frame as a generic map within a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("setting deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decoding frame %s: %v", data, err)
	}
	return frame
}

func waitSessions(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SessionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sessions = %d, want %d", hub.SessionCount(), want)
}

func TestConnectRequiresValidToken(t *testing.T) {
	_, srv := testHub(t)

	// Missing token.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}

	// Garbage token.
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "garbage"), nil)
	if err == nil {
		t.Fatal("dial with invalid token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestSubscribeAndReceivePush(t *testing.T) {
	hub, srv := testHub(t)
	conn := dialSession(t, srv, []string{"home-1"})
	waitSessions(t, hub, 1)

	sendControl(t, conn, MsgSubscribe, "1", []string{ScopeDevice("dev-1")})
	ack := readFrame(t, conn)
	if ack["type"] != MsgResponse {
		t.Fatalf("ack type = %v, want response", ack["type"])
	}

	hub.PushStateChange(&device.StateChange{
		DeviceID:  "dev-1",
		HomeID:    "home-1",
		UserID:    "user-1",
		Delta:     device.State{"power": true},
		Version:   3,
		Source:    "driver",
		Timestamp: time.Now().UTC(),
	})

	push := readFrame(t, conn)
	if push["type"] != PushDeviceState {
		t.Errorf("push type = %v, want %s", push["type"], PushDeviceState)
	}
	if push["deviceId"] != "dev-1" {
		t.Errorf("push deviceId = %v, want dev-1", push["deviceId"])
	}
	if push["timestamp"] == nil {
		t.Error("push should carry a timestamp")
	}
}

func TestHomeScopeEnforced(t *testing.T) {
	hub, srv := testHub(t)
	conn := dialSession(t, srv, []string{"home-1"})
	waitSessions(t, hub, 1)

	// home-2 is outside the token's scope: error frame, session kept.
	sendControl(t, conn, MsgSubscribe, "1", []string{ScopeHome("home-2")})
	frame := readFrame(t, conn)
	if frame["type"] != MsgError {
		t.Fatalf("frame type = %v, want error", frame["type"])
	}
	if hub.SessionCount() != 1 {
		t.Error("session should survive a denied subscription")
	}

	// The same session can still subscribe within scope.
	sendControl(t, conn, MsgSubscribe, "2", []string{ScopeHome("home-1")})
	ack := readFrame(t, conn)
	if ack["type"] != MsgResponse {
		t.Fatalf("in-scope subscribe ack = %v, want response", ack["type"])
	}

	hub.PushBroadcast("home-1", map[string]any{"note": "dinner"})
	push := readFrame(t, conn)
	if push["type"] != PushHomeBroadcast {
		t.Errorf("push type = %v, want %s", push["type"], PushHomeBroadcast)
	}
}

func TestDeviceScopeRequiresDeviceHome(t *testing.T) {
	hub, srv := testHub(t)
	conn := dialSession(t, srv, []string{"home-1"})
	waitSessions(t, hub, 1)

	// dev-2 lives in home-2, outside the token's scope.
	sendControl(t, conn, MsgSubscribe, "1", []string{ScopeDevice("dev-2")})
	frame := readFrame(t, conn)
	if frame["type"] != MsgError {
		t.Fatalf("frame type = %v, want error", frame["type"])
	}

	// Unknown devices are also denied.
	sendControl(t, conn, MsgSubscribe, "2", []string{ScopeDevice("dev-404")})
	frame = readFrame(t, conn)
	if frame["type"] != MsgError {
		t.Fatalf("frame type = %v, want error", frame["type"])
	}
}

func TestUserScopeOwnIdentityOnly(t *testing.T) {
	hub, srv := testHub(t)
	conn := dialSession(t, srv, []string{"home-1"})
	waitSessions(t, hub, 1)

	sendControl(t, conn, MsgSubscribe, "1", []string{ScopeUser("someone-else")})
	frame := readFrame(t, conn)
	if frame["type"] != MsgError {
		t.Fatalf("frame type = %v, want error", frame["type"])
	}

	sendControl(t, conn, MsgSubscribe, "2", []string{ScopeUser("user-1")})
	ack := readFrame(t, conn)
	if ack["type"] != MsgResponse {
		t.Fatalf("own-identity subscribe ack = %v, want response", ack["type"])
	}
}

func TestPushOnlyReachesSubscribers(t *testing.T) {
	hub, srv := testHub(t)

	subscribed := dialSession(t, srv, []string{"home-1"})
	bystander := dialSession(t, srv, []string{"home-1"})
	waitSessions(t, hub, 2)

	sendControl(t, subscribed, MsgSubscribe, "1", []string{ScopeDevice("dev-1")})
	readFrame(t, subscribed)

	hub.PushStatus("dev-1", "home-1", "user-1", map[string]any{"status": "completed"})

	push := readFrame(t, subscribed)
	if push["type"] != PushCommandStatus {
		t.Errorf("push type = %v, want %s", push["type"], PushCommandStatus)
	}

	// The bystander never subscribed and must receive nothing.
	if err := bystander.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
		t.Fatalf("setting deadline: %v", err)
	}
	if _, _, err := bystander.ReadMessage(); err == nil {
		t.Error("unsubscribed session received a push")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, srv := testHub(t)
	conn := dialSession(t, srv, []string{"home-1"})
	waitSessions(t, hub, 1)

	sendControl(t, conn, MsgSubscribe, "1", []string{ScopeHome("home-1")})
	readFrame(t, conn)

	sendControl(t, conn, MsgUnsubscribe, "2", []string{ScopeHome("home-1")})
	ack := readFrame(t, conn)
	if ack["type"] != MsgResponse {
		t.Fatalf("unsubscribe ack = %v, want response", ack["type"])
	}

	hub.PushBroadcast("home-1", map[string]any{"note": "ignored"})

	if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
		t.Fatalf("setting deadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("unsubscribed session received a push")
	}
}

func TestDisconnectReleasesSession(t *testing.T) {
	hub, srv := testHub(t)
	conn := dialSession(t, srv, []string{"home-1"})
	waitSessions(t, hub, 1)

	conn.Close()
	waitSessions(t, hub, 0)

	// Pushing after disconnect must not panic.
	hub.PushBroadcast("home-1", map[string]any{"note": "nobody home"})
}

func TestPingControlFrame(t *testing.T) {
	hub, srv := testHub(t)
	conn := dialSession(t, srv, []string{"home-1"})
	waitSessions(t, hub, 1)

	frame, _ := json.Marshal(map[string]any{"type": MsgPing, "id": "p1"})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("writing ping: %v", err)
	}

	pong := readFrame(t, conn)
	if pong["type"] != MsgPong {
		t.Errorf("reply type = %v, want pong", pong["type"])
	}
	if pong["id"] != "p1" {
		t.Errorf("reply id = %v, want p1", pong["id"])
	}
}

func TestPushesDeliveredCountsEachRecipient(t *testing.T) {
	hub, srv := testHub(t)
	m := metrics.New(prometheus.NewRegistry())
	hub.SetMetrics(m)

	first := dialSession(t, srv, []string{"home-1"})
	second := dialSession(t, srv, []string{"home-1"})
	waitSessions(t, hub, 2)

	for _, conn := range []*websocket.Conn{first, second} {
		sendControl(t, conn, MsgSubscribe, "1", []string{ScopeHome("home-1")})
		ack := readFrame(t, conn)
		if ack["type"] != MsgResponse {
			t.Fatalf("ack type = %v, want response", ack["type"])
		}
	}

	hub.PushBroadcast("home-1", map[string]any{"message": "maintenance at noon"})
	readFrame(t, first)
	readFrame(t, second)

	// One publish, two subscribed sessions: the counter moves per
	// recipient, not per publish.
	if got := testutil.ToFloat64(m.PushesDelivered); got != 2 {
		t.Errorf("pushes delivered = %v, want 2", got)
	}
}
