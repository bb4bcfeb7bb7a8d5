package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-checkin/internal/config"
)

const (
	publishQoS        = 1
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// NewClientFunc creates the underlying paho client. Tests replace it.
var NewClientFunc = func(opts *mqtt.ClientOptions) client {
	return mqtt.NewClient(opts)
}

// MQTTPublisher publishes attendance events as JSON to a single topic.
type MQTTPublisher struct {
	cfg    config.MQTTConfig
	client client
}

// NewMQTTPublisher configures the client and connects to the broker.
// The client reconnects automatically after the first successful connection.
func NewMQTTPublisher(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("mqtt broker not configured")
	}

	brokerURL := fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("MQTT connection lost, reconnecting")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", brokerURL).Info("Connected to MQTT broker")
	})

	p := &MQTTPublisher{cfg: cfg, client: NewClientFunc(opts)}

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timeout", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", brokerURL, err)
	}
	return p, nil
}

// Publish sends the event and waits for the broker acknowledgement or ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, event AttendanceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding attendance event: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, publishQoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publishing to %s: %w", p.cfg.Topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.cfg.Topic, err)
	}

	log.WithFields(log.Fields{
		"topic":       p.cfg.Topic,
		"identity_id": event.IdentityID,
		"event_ref":   event.EventRef,
	}).Debug("Published attendance event")
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesce)
	}
}

var (
	_ Publisher = (*MQTTPublisher)(nil)
	_ Publisher = Nop{}
)
