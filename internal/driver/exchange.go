package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthbeam/hearth-core/internal/infrastructure/mqtt"
)

// Transport is the pub/sub surface bridge-attached drivers use.
// Satisfied by *mqtt.Client; mocked in tests.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(pattern string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(pattern string) error
}

// Exchanger correlates bridge requests with their responses.
//
// It subscribes once to the protocol's response wildcard and routes each
// incoming response to the waiter registered under its request ID.
// Responses with no waiter (late arrivals after a timeout) are dropped.
//
// Thread Safety: all methods are safe for concurrent use.
type Exchanger struct {
	transport Transport
	topics    mqtt.Topics
	protocol  string

	mu      sync.Mutex
	pending map[string]chan Response
	started bool
}

// NewExchanger creates an exchanger for one protocol's bridge traffic.
func NewExchanger(transport Transport, protocol string) *Exchanger {
	return &Exchanger{
		transport: transport,
		protocol:  protocol,
		pending:   make(map[string]chan Response),
	}
}

// Start subscribes to the protocol's response topics. Must be called
// before Exchange; idempotent.
func (e *Exchanger) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	pattern := e.topics.AllDriverResponses(e.protocol)
	if err := e.transport.Subscribe(pattern, 1, e.handleResponse); err != nil {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		return fmt.Errorf("subscribing to %s: %w", pattern, err)
	}
	return nil
}

// Close unsubscribes from the response topics and drops all waiters.
func (e *Exchanger) Close() error {
	e.mu.Lock()
	started := e.started
	e.started = false
	for id, ch := range e.pending {
		close(ch)
		delete(e.pending, id)
	}
	e.mu.Unlock()

	if !started {
		return nil
	}
	return e.transport.Unsubscribe(e.topics.AllDriverResponses(e.protocol))
}

// Exchange publishes a request to the bridge and waits for the matching
// response or the context deadline.
//
// Parameters:
//   - ctx: Carries the per-call deadline
//   - address: Bridge-side device address (topic segment)
//   - req: Request to send; ID is assigned if empty
//
// Returns:
//   - Response: The correlated bridge response
//   - error: ErrResponseTimeout on deadline, or a publish error
func (e *Exchanger) Exchange(ctx context.Context, address string, req Request) (Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshalling request: %w", err)
	}

	// Register the waiter before publishing so a fast response cannot
	// race the registration.
	ch := make(chan Response, 1)
	e.mu.Lock()
	e.pending[req.ID] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, req.ID)
		e.mu.Unlock()
	}()

	topic := e.topics.DriverCommands(e.protocol, address)
	if err := e.transport.Publish(topic, payload, 1, false); err != nil {
		return Response{}, fmt.Errorf("publishing request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("%w: exchanger closed", ErrResponseTimeout)
		}
		return resp, nil
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: request %s on %s", ErrResponseTimeout, req.ID, topic)
	}
}

// handleResponse routes an incoming response payload to its waiter.
func (e *Exchanger) handleResponse(_ string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if resp.RequestID == "" {
		return fmt.Errorf("%w: missing request_id", ErrMalformedResponse)
	}

	e.mu.Lock()
	ch, ok := e.pending[resp.RequestID]
	e.mu.Unlock()

	if !ok {
		// Late arrival after the waiter timed out; drop it.
		return nil
	}

	select {
	case ch <- resp:
	default:
	}
	return nil
}

// ResponseErr converts a failed bridge response into a driver error.
func ResponseErr(resp Response) error {
	if resp.Success {
		return nil
	}
	if resp.Error == nil {
		return fmt.Errorf("%w: bridge reported failure", ErrDeviceUnreachable)
	}
	switch resp.Error.Code {
	case CodeDeviceUnreachable:
		return fmt.Errorf("%w: %s", ErrDeviceUnreachable, resp.Error.Message)
	case CodeInvalidCommand:
		return fmt.Errorf("%w: %s", ErrUnsupportedCommand, resp.Error.Message)
	case CodeAttributeUnknown:
		return fmt.Errorf("%w: %s", ErrAttributeNotFound, resp.Error.Message)
	default:
		return fmt.Errorf("driver: bridge error %s: %s", resp.Error.Code, resp.Error.Message)
	}
}
