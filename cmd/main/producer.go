package main

import (
	"context"
	"fmt"

	"github.com/SoulStalker/hex_producer/internal/config"
	"github.com/SoulStalker/hex_producer/internal/producer"
	"github.com/rs/zerolog"
)

// newProducer connects the broker client selected by cfg.
func newProducer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (producer.MessageProducer, error) {
	dialTimeout := cfg.Sender.DialTimeout

	switch cfg.Broker {
	case config.BrokerKafka:
		if cfg.Kafka.Driver == config.DriverSarama {
			return producer.NewSaramaProducer(producer.SaramaConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.Topic,
				MaxAttempts:  cfg.Kafka.MaxAttempts,
				DialTimeout:  dialTimeout,
				WriteTimeout: cfg.Sender.PublishTimeout,
				Compression:  cfg.Kafka.Compression,
				RequiredAcks: cfg.Kafka.RequiredAcks,
			}, logger)
		}
		return producer.NewKafkaProducer(producer.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
			DialTimeout:  dialTimeout,
			WriteTimeout: cfg.Sender.PublishTimeout,
			Compression:  producer.GetCompression(cfg.Kafka.Compression),
			RequiredAcks: producer.GetRequiredAcks(cfg.Kafka.RequiredAcks),
		}, logger)

	case config.BrokerRabbitMQ:
		return producer.NewRabbitMQProducer(producer.RabbitConfig{
			URL:          cfg.RabbitMQ.URL,
			Exchange:     cfg.RabbitMQ.Exchange,
			ExchangeType: cfg.RabbitMQ.ExchangeType,
			RoutingKey:   cfg.RabbitMQ.RoutingKey,
			DialTimeout:  dialTimeout,
			Durable:      cfg.RabbitMQ.Durable,
			Persistent:   cfg.RabbitMQ.Persistent,
			DeclareQueue: cfg.RabbitMQ.DeclareQueue,
		}, logger)

	case config.BrokerMQTT:
		return producer.NewMQTTProducer(producer.MQTTConfig{
			BrokerURL:   cfg.MQTT.BrokerURL,
			Topic:       cfg.MQTT.Topic,
			QoS:         byte(cfg.MQTT.QoS),
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			DialTimeout: dialTimeout,
		}, logger)

	case config.BrokerNATS:
		return producer.NewNATSProducer(producer.NATSConfig{
			URL:         cfg.NATS.URL,
			Subject:     cfg.NATS.Subject,
			JetStream:   cfg.NATS.JetStream,
			DialTimeout: dialTimeout,
		}, logger)

	case config.BrokerPubSub:
		return producer.NewPubSubProducer(ctx, producer.PubSubConfig{
			ProjectID:   cfg.PubSub.ProjectID,
			TopicID:     cfg.PubSub.TopicID,
			Endpoint:    cfg.PubSub.Endpoint,
			DialTimeout: dialTimeout,
		}, logger)
	}

	return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
}
