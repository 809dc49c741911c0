package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthbeam/hearth-core/internal/auth"
	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/logging"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/metrics"
)

// Push message types.
const (
	PushDeviceState   = "device:state"
	PushDeviceEvent   = "device:event"
	PushCommandStatus = "command:status"
	PushHomeBroadcast = "home:broadcast"
)

// Push is the message shape delivered to subscribed sessions.
type Push struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"deviceId,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceScoper resolves a device's ownership so device:{id}
// subscriptions can be checked against the caller's home scope.
// Satisfied by *device.Registry.
type DeviceScoper interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
}

// Hub manages WebSocket sessions and routes pushes to subscribers.
type Hub struct {
	cfg      config.WebSocketConfig
	secret   string
	scoper   DeviceScoper
	logger   *logging.Logger
	metrics  *metrics.Metrics
	sessions map[*Session]struct{}
	mu       sync.RWMutex
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Connections are authenticated by token, not origin.
		return true
	},
}

// NewHub creates a session hub.
//
// Parameters:
//   - cfg: WebSocket tuning (ping cadence, message limits)
//   - secret: JWT signing secret used to verify connection tokens
//   - scoper: Device ownership lookup for device:{id} authorization
//   - logger: Structured logger
func NewHub(cfg config.WebSocketConfig, secret string, scoper DeviceScoper, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		secret:   secret,
		scoper:   scoper,
		logger:   logger,
		sessions: make(map[*Session]struct{}),
	}
}

// SetMetrics attaches Prometheus instrumentation to the hub.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// Run blocks until the context is cancelled, then disconnects all sessions.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// HandleWS authenticates and upgrades an HTTP request into a fanout
// session. The JWT is carried in the token query parameter so browser
// clients can connect without custom headers.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token query parameter is required", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ParseToken(token, h.secret)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	session := newSession(h, conn, claims)
	h.register(session)

	go session.writePump(h.cfg)
	go session.readPump(h.cfg)
}

// register adds a session to the hub.
func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SessionsConnected.Inc()
	}
	h.logger.Debug("fanout session connected", "user", s.claims.Subject, "sessions", h.SessionCount())
}

// unregister removes a session. Only the goroutine that removes the
// session from the map closes its send channel, preventing double-close
// panics during shutdown.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	_, existed := h.sessions[s]
	delete(h.sessions, s)
	h.mu.Unlock()

	if existed {
		close(s.send)
		if h.metrics != nil {
			h.metrics.SessionsConnected.Dec()
		}
	}
	h.logger.Debug("fanout session disconnected", "sessions", h.SessionCount())
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish delivers a push to every session subscribed to at least one
// of the given scopes. Each matching session receives the push once.
//
// Lock ordering: the session list is snapshotted under the hub lock,
// which is released before per-session subscription checks.
func (h *Hub) Publish(scopes []string, push Push) {
	if push.Timestamp.IsZero() {
		push.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(push)
	if err != nil {
		h.logger.Error("marshalling push", "type", push.Type, "error", err)
		return
	}

	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range sessions {
		if s.subscribedToAny(scopes) {
			s.trySend(data)
			delivered++
		}
	}

	if delivered > 0 {
		if h.metrics != nil {
			h.metrics.PushesDelivered.Add(float64(delivered))
		}
		h.logger.Debug("push delivered", "type", push.Type, "recipients", delivered)
	}
}

// PushStateChange fans a confirmed state change out to the device's
// subscribers and its home and owner scopes.
func (h *Hub) PushStateChange(change *device.StateChange) {
	h.Publish(deviceScopes(change.DeviceID, change.HomeID, change.UserID), Push{
		Type:      PushDeviceState,
		DeviceID:  change.DeviceID,
		Payload:   change,
		Timestamp: change.Timestamp,
	})
}

// PushEvent fans a protocol event (attribute report, availability
// change) out for a device.
func (h *Hub) PushEvent(deviceID, homeID, userID string, payload any) {
	h.Publish(deviceScopes(deviceID, homeID, userID), Push{
		Type:     PushDeviceEvent,
		DeviceID: deviceID,
		Payload:  payload,
	})
}

// PushStatus fans a command status change out for a device.
func (h *Hub) PushStatus(deviceID, homeID, userID string, payload any) {
	h.Publish(deviceScopes(deviceID, homeID, userID), Push{
		Type:     PushCommandStatus,
		DeviceID: deviceID,
		Payload:  payload,
	})
}

// PushBroadcast delivers a home-wide announcement to home:{id} subscribers.
func (h *Hub) PushBroadcast(homeID string, payload any) {
	h.Publish([]string{ScopeHome(homeID)}, Push{
		Type:    PushHomeBroadcast,
		Payload: payload,
	})
}

// closeAll disconnects all sessions and closes their send channels so
// write pumps exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.sessions {
		close(s.send)
		if s.conn != nil {
			s.conn.Close()
		}
		delete(h.sessions, s)
		if h.metrics != nil {
			h.metrics.SessionsConnected.Dec()
		}
	}
}

func deviceScopes(deviceID, homeID, userID string) []string {
	scopes := []string{ScopeDevice(deviceID)}
	if homeID != "" {
		scopes = append(scopes, ScopeHome(homeID))
	}
	if userID != "" {
		scopes = append(scopes, ScopeUser(userID))
	}
	return scopes
}
