package producer

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const brokerMQTT = "mqtt"

// MQTTProducer publishes raw payloads to an MQTT topic. MQTT has no message
// headers, so MessageHeaders only reach the log.
type MQTTProducer struct {
	client mqttClient
	config MQTTConfig
	logger zerolog.Logger
}

// mqttClient is the part of mqtt.Client the producer needs.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

type MQTTConfig struct {
	BrokerURL   string
	Topic       string
	QoS         byte
	Username    string
	Password    string
	DialTimeout time.Duration
}

func NewMQTTProducer(cfg MQTTConfig, logger zerolog.Logger) (*MQTTProducer, error) {
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	logger = logger.With().Str("component", "MQTTProducer").Str("topic", cfg.Topic).Logger()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("hex-producer-%s", uuid.New().String())).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.DialTimeout).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Error().Err(err).Msg("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if cfg.DialTimeout <= 0 {
		token.Wait()
	} else if !token.WaitTimeout(cfg.DialTimeout) {
		return nil, fmt.Errorf("mqtt: timed out connecting to %s", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: failed to connect to %s: %w", cfg.BrokerURL, err)
	}

	logger.Info().Str("broker", cfg.BrokerURL).Msg("Connected to MQTT broker")
	return &MQTTProducer{client: client, config: cfg, logger: logger}, nil
}

func newMQTTProducer(client mqttClient, cfg MQTTConfig, logger zerolog.Logger) *MQTTProducer {
	return &MQTTProducer{
		client: client,
		config: cfg,
		logger: logger.With().Str("component", "MQTTProducer").Str("topic", cfg.Topic).Logger(),
	}
}

// SendMessage waits for the publish token. With QoS 0 the token completes
// once the packet is written, which is the only guarantee MQTT offers there.
func (p *MQTTProducer) SendMessage(ctx context.Context, headers MessageHeaders, data []byte) error {
	token := p.client.Publish(p.config.Topic, p.config.QoS, false, data)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return &PublishError{Broker: brokerMQTT, Topic: p.config.Topic, Err: err}
		}
		p.logger.Debug().
			Int("line", headers.LineNumber).
			Str("idempotency_key", headers.IdempotencyKey).
			Msg("Message published")
		return nil
	case <-ctx.Done():
		return &PublishError{Broker: brokerMQTT, Topic: p.config.Topic, Err: ctx.Err()}
	}
}

// Flush is a no-op: Close lets in-flight work finish before disconnecting.
func (p *MQTTProducer) Flush(context.Context) error {
	return nil
}

func (p *MQTTProducer) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.logger.Info().Msg("MQTT client disconnected")
	}
	return nil
}
