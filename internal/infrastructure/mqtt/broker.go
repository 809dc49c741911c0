package mqtt

import (
	"fmt"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
)

// Broker is an optional in-process MQTT broker for single-box installs.
//
// When enabled, Hearth runs its own broker and connects the transport
// Client to it over loopback TCP; driver bridge processes on the same host
// connect the same way. This removes the external broker dependency without
// changing any topic semantics.
type Broker struct {
	server *mochi.Server
	cfg    config.EmbeddedBrokerConfig
}

// NewBroker creates an embedded broker from configuration.
//
// Authentication mirrors the transport config: if credentials are set they
// are required; otherwise the broker is open (loopback-only deployments).
func NewBroker(cfg config.EmbeddedBrokerConfig, authCfg config.MQTTAuthConfig) (*Broker, error) {
	server := mochi.New(&mochi.Options{
		InlineClient: true,
	})

	var hook mochi.Hook
	var hookCfg any
	if authCfg.Username != "" {
		hook = new(auth.Hook)
		hookCfg = &auth.Options{
			Ledger: &auth.Ledger{
				Auth: auth.AuthRules{
					{Username: auth.RString(authCfg.Username), Password: auth.RString(authCfg.Password), Allow: true},
				},
			},
		}
	} else {
		hook = new(auth.AllowHook)
	}
	if err := server.AddHook(hook, hookCfg); err != nil {
		return nil, fmt.Errorf("%w: adding auth hook: %w", ErrBrokerStartFailed, err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: "hearth-embedded", Address: cfg.Listen})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("%w: adding TCP listener: %w", ErrBrokerStartFailed, err)
	}

	return &Broker{server: server, cfg: cfg}, nil
}

// Start begins serving broker connections in a background goroutine.
// Serve errors after startup are reported through the returned channel.
func (b *Broker) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := b.server.Serve(); err != nil {
			errCh <- fmt.Errorf("%w: %w", ErrBrokerStartFailed, err)
		}
		close(errCh)
	}()
	return errCh
}

// Close shuts the broker down, disconnecting all clients.
func (b *Broker) Close() error {
	return b.server.Close()
}
