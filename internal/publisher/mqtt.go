package publisher

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Presence payloads on the availability topic.
const (
	Online  = "online"
	Offline = "offline"
)

// MQTTPublisher wraps a Paho MQTT client.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
}

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte

	// AvailabilityTopic, when set, is retained as "online" on every connect
	// and as "offline" by the broker when the connection drops.
	AvailabilityTopic string

	Logger zerolog.Logger
}

// NewMQTTPublisher creates and connects an MQTT publisher.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	log := opts.Logger

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Str("broker", opts.Broker).Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			log.Info().Str("broker", opts.Broker).Msg("mqtt connected")
			if opts.AvailabilityTopic != "" {
				c.Publish(opts.AvailabilityTopic, opts.QoS, true, Online)
			}
		})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username).SetPassword(opts.Password)
	}
	if opts.AvailabilityTopic != "" {
		clientOpts.SetWill(opts.AvailabilityTopic, Offline, opts.QoS, true)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return &MQTTPublisher{
		client: client,
		qos:    opts.QoS,
	}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	token := p.client.Publish(topic, p.qos, retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
