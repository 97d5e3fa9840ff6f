package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"motionwatch/config"
	"motionwatch/logging"
)

const publishTimeout = 2 * time.Second

// publisher is the part of mqtt.Client used for delivery.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type mqttPayload struct {
	Event
	Text string `json:"text"`
}

// MQTT publishes events as JSON on <prefix>/<camera>/events.
type MQTT struct {
	client mqtt.Client
	pub    publisher
	prefix string
	qos    byte
	log    zerolog.Logger
}

// DialMQTT connects to the configured broker with auto-reconnect.
func DialMQTT(cfg config.MQTT) (*MQTT, error) {
	log := logging.Component("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	m := newMQTT(client, cfg)
	m.client = client
	return m, nil
}

func newMQTT(pub publisher, cfg config.MQTT) *MQTT {
	return &MQTT{pub: pub, prefix: cfg.TopicPrefix, qos: cfg.QoS, log: logging.Component("mqtt")}
}

// Topic returns the event topic for a camera.
func (m *MQTT) Topic(camera string) string {
	return fmt.Sprintf("%s/%s/events", m.prefix, camera)
}

// Notify publishes the event and waits briefly for the broker.
func (m *MQTT) Notify(ctx context.Context, e Event) error {
	payload, err := json.Marshal(mqttPayload{Event: e, Text: e.Text()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	topic := m.Topic(e.Camera)
	token := m.pub.Publish(topic, m.qos, false, payload)
	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish %s: timeout", topic)
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	m.log.Debug().Str("topic", topic).Int("size", len(payload)).Msg("Event published")
	return nil
}

// Close disconnects from the broker.
func (m *MQTT) Close() error {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return nil
}
