package fanout

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthbeam/hearth-core/internal/auth"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
)

// Control message types.
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgResponse    = "response"
	MsgError       = "error"

	// sendBufferSize is the per-session outbound message buffer size.
	sendBufferSize = 256

	// scopeCheckTimeout bounds the device lookup during subscribe
	// authorization.
	scopeCheckTimeout = 5 * time.Second
)

// Scope prefixes.
const (
	scopeDevicePrefix = "device:"
	scopeHomePrefix   = "home:"
	scopeUserPrefix   = "user:"
)

// ScopeDevice returns the subscription scope for a device.
func ScopeDevice(id string) string { return scopeDevicePrefix + id }

// ScopeHome returns the subscription scope for a home.
func ScopeHome(id string) string { return scopeHomePrefix + id }

// ScopeUser returns the subscription scope for a user.
func ScopeUser(id string) string { return scopeUserPrefix + id }

// ControlMessage is the envelope for client-to-hub control frames.
type ControlMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload carries the scopes for subscribe/unsubscribe frames.
type SubscribePayload struct {
	Scopes []string `json:"scopes"`
}

// Session is one authenticated WebSocket connection.
type Session struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	claims        *auth.CustomClaims
	subscriptions map[string]struct{}
	mu            sync.RWMutex
}

func newSession(hub *Hub, conn *websocket.Conn, claims *auth.CustomClaims) *Session {
	return &Session{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		claims:        claims,
		subscriptions: make(map[string]struct{}),
	}
}

// readPump reads control frames from the connection. Exiting the pump
// unregisters the session, which releases all its subscriptions.
func (s *Session) readPump(cfg config.WebSocketConfig) {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read error", "error", err)
			} else {
				s.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client frame resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		s.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		s.handleMessage(message)
	}
}

// writePump writes queued pushes and protocol pings to the connection.
func (s *Session) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-s.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes one inbound control frame.
func (s *Session) handleMessage(data []byte) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case MsgSubscribe:
		s.handleSubscribe(msg)
	case MsgUnsubscribe:
		s.handleUnsubscribe(msg)
	case MsgPing:
		s.sendResponse(msg.ID, MsgPong, nil)
	default:
		s.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe grants the authorized scopes in the request and
// reports the denied ones. A denial never tears the session down.
func (s *Session) handleSubscribe(msg ControlMessage) {
	var sub SubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		s.sendError(msg.ID, "invalid subscribe payload")
		return
	}
	if len(sub.Scopes) == 0 {
		s.sendError(msg.ID, "no scopes given")
		return
	}

	var granted, denied []string
	for _, scope := range sub.Scopes {
		if err := s.authorizeScope(scope); err != nil {
			denied = append(denied, scope)
			continue
		}
		granted = append(granted, scope)
	}

	s.mu.Lock()
	for _, scope := range granted {
		s.subscriptions[scope] = struct{}{}
	}
	s.mu.Unlock()

	if len(granted) > 0 {
		s.hub.logger.Info("fanout session subscribed",
			"user", s.claims.Subject, "scopes", granted)
		s.sendResponse(msg.ID, MsgResponse, map[string]any{"subscribed": granted})
	}
	if len(denied) > 0 {
		s.sendError(msg.ID, "scope not authorized: "+strings.Join(denied, ", "))
	}
}

// handleUnsubscribe releases the named scopes.
func (s *Session) handleUnsubscribe(msg ControlMessage) {
	var sub SubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		s.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	s.mu.Lock()
	for _, scope := range sub.Scopes {
		delete(s.subscriptions, scope)
	}
	s.mu.Unlock()

	s.sendResponse(msg.ID, MsgResponse, map[string]any{"unsubscribed": sub.Scopes})
}

// authorizeScope checks one subscription scope against the session's
// claims. Home scopes must be in the token's home list; a user scope
// must name the session's own identity; a device scope requires the
// device's home to be in the token's home list.
func (s *Session) authorizeScope(scope string) error {
	switch {
	case strings.HasPrefix(scope, scopeHomePrefix):
		homeID := strings.TrimPrefix(scope, scopeHomePrefix)
		if !s.claims.HasHome(homeID) {
			return auth.ErrHomeForbidden
		}
		return nil

	case strings.HasPrefix(scope, scopeUserPrefix):
		userID := strings.TrimPrefix(scope, scopeUserPrefix)
		if userID != s.claims.Subject {
			return auth.ErrHomeForbidden
		}
		return nil

	case strings.HasPrefix(scope, scopeDevicePrefix):
		deviceID := strings.TrimPrefix(scope, scopeDevicePrefix)
		ctx, cancel := context.WithTimeout(context.Background(), scopeCheckTimeout)
		defer cancel()
		dev, err := s.hub.scoper.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		if !s.claims.HasHome(dev.HomeID) {
			return auth.ErrHomeForbidden
		}
		return nil

	default:
		return auth.ErrHomeForbidden
	}
}

// subscribedToAny reports whether the session holds any of the scopes.
func (s *Session) subscribedToAny(scopes []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, scope := range scopes {
		if _, ok := s.subscriptions[scope]; ok {
			return true
		}
	}
	return false
}

// trySend queues data for the session without blocking. Full buffers
// (slow clients) and closed channels (mid-broadcast disconnects) drop
// the message.
func (s *Session) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case s.send <- data:
	default:
		// Session buffer full, skip
	}
}

// sendResponse sends a control response to the session.
func (s *Session) sendResponse(id, msgType string, payload any) {
	msg := struct {
		Type      string `json:"type"`
		ID        string `json:"id,omitempty"`
		Timestamp string `json:"timestamp"`
		Payload   any    `json:"payload,omitempty"`
	}{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.trySend(data)
}

// sendError sends an error frame to the session.
func (s *Session) sendError(id, message string) {
	s.sendResponse(id, MsgError, map[string]string{"message": message})
}
