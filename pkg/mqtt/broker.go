package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/getmockd/hookd/pkg/logging"
)

// Broker is an embedded MQTT broker that clients subscribe to for events.
// Clients may connect without credentials; publishing is reserved to hookd
// through the inline client.
type Broker struct {
	addr     string
	server   *mochi.Server
	listener *listeners.TCP
	log      *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewBroker creates a broker that will listen on addr.
func NewBroker(addr string, log *slog.Logger) (*Broker, error) {
	if addr == "" {
		return nil, errors.New("broker address is required")
	}
	if log == nil {
		log = logging.Nop()
	}

	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       log,
	})
	// mochi rejects every connection without an auth hook.
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("failed to add allow hook: %w", err)
	}
	return &Broker{addr: addr, server: server, log: log}, nil
}

// Start binds the listener and serves in the background.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errors.New("broker is already running")
	}

	b.listener = listeners.NewTCP(listeners.Config{ID: "hookd-events", Address: b.addr})
	if err := b.server.AddListener(b.listener); err != nil {
		return fmt.Errorf("mqtt listen %s: %w", b.addr, err)
	}
	go func() {
		if err := b.server.Serve(); err != nil {
			b.log.Error("MQTT server error", "error", err)
		}
	}()

	b.running = true
	b.log.Info("starting MQTT event broker", "addr", b.listener.Address())
	return nil
}

// Publish delivers a message to subscribed clients.
func (b *Broker) Publish(topic string, payload []byte, qos byte) error {
	return b.server.Publish(topic, payload, false, qos)
}

// Addr returns the bound address, or the configured one before Start.
func (b *Broker) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return b.addr
	}
	return b.listener.Address()
}

// Stop disconnects clients and closes the listener.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	// Close triggers client disconnect hooks, so it runs without b.mu held.
	done := make(chan error, 1)
	go func() { done <- b.server.Close() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("mqtt shutdown timed out: %w", ctx.Err())
	}
}
