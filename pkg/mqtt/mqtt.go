package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/getmockd/hookd/pkg/events"
	"github.com/getmockd/hookd/pkg/logging"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "hookd/events"

// Config selects the sinks and shapes what is published.
type Config struct {
	// Listen is the embedded broker address. Empty disables it.
	Listen string

	// Broker is an external broker URL such as tcp://host:1883. Empty
	// disables forwarding.
	Broker string

	// ClientID identifies the forwarder to the external broker.
	ClientID string

	TopicPrefix string
	QoS         byte

	// Filter is an event filter expression, as accepted by the event stream.
	Filter string
}

// Enabled reports whether any sink is configured.
func (c Config) Enabled() bool {
	return c.Listen != "" || c.Broker != ""
}

// Topic returns the topic an event type is published on.
func Topic(prefix, eventType string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return strings.TrimRight(prefix, "/") + "/" + strings.ReplaceAll(eventType, ":", "/")
}

// sink publishes one message.
type sink interface {
	Publish(topic string, payload []byte, qos byte) error
}

// Service relays bus events to the configured sinks.
type Service struct {
	cfg    Config
	bus    *events.Bus
	filter *events.Filter
	log    *slog.Logger

	broker    *Broker
	forwarder *Forwarder

	mu          sync.Mutex
	running     bool
	unsubscribe func()
	done        chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService validates cfg and prepares the sinks without connecting.
func NewService(cfg Config, bus *events.Bus, opts ...Option) (*Service, error) {
	if bus == nil {
		return nil, errors.New("event bus is required")
	}
	if !cfg.Enabled() {
		return nil, errors.New("no MQTT sink configured")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", cfg.QoS)
	}
	filter, err := events.CompileFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg, bus: bus, filter: filter, log: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Listen != "" {
		s.broker, err = NewBroker(cfg.Listen, s.log.With("sink", "broker"))
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start opens the sinks and begins relaying.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("mqtt service is already running")
	}

	var sinks []sink
	if s.broker != nil {
		if err := s.broker.Start(); err != nil {
			return err
		}
		sinks = append(sinks, s.broker)
	}
	if s.cfg.Broker != "" {
		f, err := Dial(ctx, s.cfg.Broker, s.cfg.ClientID, s.log.With("sink", "forwarder"))
		if err != nil {
			if s.broker != nil {
				_ = s.broker.Stop(ctx)
			}
			return err
		}
		s.forwarder = f
		sinks = append(sinks, f)
	}

	ch, unsubscribe := s.bus.Subscribe()
	s.unsubscribe = unsubscribe
	s.done = make(chan struct{})
	go s.relay(ch, sinks)

	s.running = true
	s.log.Info("relaying events over MQTT", "listen", s.BrokerAddr(), "broker", s.cfg.Broker, "prefix", s.topicPrefix())
	return nil
}

func (s *Service) relay(ch <-chan events.Event, sinks []sink) {
	defer close(s.done)
	for ev := range ch {
		if !s.filter.Match(ev) {
			continue
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			s.log.Warn("failed to encode event", "type", ev.Type, "error", err)
			continue
		}
		topic := Topic(s.cfg.TopicPrefix, ev.Type)
		for _, sk := range sinks {
			if err := sk.Publish(topic, payload, s.cfg.QoS); err != nil {
				s.log.Warn("failed to publish event", "topic", topic, "error", err)
			}
		}
	}
}

// Stop ends relaying and closes the sinks.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.unsubscribe()
	select {
	case <-s.done:
	case <-ctx.Done():
	}

	var errs []error
	if s.forwarder != nil {
		s.forwarder.Close()
		s.forwarder = nil
	}
	if s.broker != nil {
		if err := s.broker.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BrokerAddr returns the embedded broker's bound address, or "".
func (s *Service) BrokerAddr() string {
	if s.broker == nil {
		return ""
	}
	return s.broker.Addr()
}

func (s *Service) topicPrefix() string {
	if s.cfg.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return s.cfg.TopicPrefix
}
