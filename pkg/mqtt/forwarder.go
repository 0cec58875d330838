package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/getmockd/hookd/internal/id"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Forwarder publishes to an external broker.
type Forwarder struct {
	client paho.Client
	log    *slog.Logger
}

// Dial connects to brokerURL. An empty clientID gets a generated one.
func Dial(ctx context.Context, brokerURL, clientID string, log *slog.Logger) (*Forwarder, error) {
	if clientID == "" {
		clientID = "hookd-" + id.Short()
	}

	opts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("MQTT connection lost", "broker", brokerURL, "error", err)
		}).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			log.Info("MQTT reconnecting", "broker", brokerURL)
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", brokerURL, err)
	}

	log.Info("connected to MQTT broker", "broker", brokerURL, "client_id", clientID)
	return &Forwarder{client: client, log: log}, nil
}

// Publish sends one message and waits for it to be handed to the broker.
func (f *Forwarder) Publish(topic string, payload []byte, qos byte) error {
	token := f.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return token.Error()
}

// Close disconnects, allowing in-flight work a short grace period.
func (f *Forwarder) Close() {
	f.client.Disconnect(250)
}
