package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const brokerRabbitMQ = "rabbitmq"

type RabbitMQProducer struct {
	conn    *amqp.Connection
	channel confirmPublisher
	config  RabbitConfig
	logger  zerolog.Logger
}

// confirmPublisher publishes on a confirm-mode channel and hands back the
// pending broker confirmation.
type confirmPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (deferredConfirm, error)
	Close() error
}

type deferredConfirm interface {
	WaitContext(ctx context.Context) (bool, error)
}

type confirmChannel struct {
	*amqp.Channel
}

func (c confirmChannel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (deferredConfirm, error) {
	confirm, err := c.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return nil, err
	}
	if confirm == nil {
		return nil, fmt.Errorf("channel is not in confirm mode")
	}
	return confirm, nil
}

type RabbitConfig struct {
	URL          string
	Exchange     string
	ExchangeType string
	RoutingKey   string
	DialTimeout  time.Duration
	Durable      bool
	Persistent   bool
	DeclareQueue bool
}

func (c RabbitConfig) destination() string {
	if c.Exchange == "" {
		return c.RoutingKey
	}
	return c.Exchange + "/" + c.RoutingKey
}

func NewRabbitMQProducer(cfg RabbitConfig, logger zerolog.Logger) (*RabbitMQProducer, error) {
	if cfg.RoutingKey == "" {
		return nil, fmt.Errorf("rabbitmq: routing key is required")
	}

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Dial:       amqp.DefaultDial(cfg.DialTimeout),
		Properties: amqp.Table{"connection_name": "hex_producer"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(step string, err error) (*RabbitMQProducer, error) {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to %s: %w", step, err)
	}

	// The default exchange cannot be declared.
	if cfg.Exchange != "" {
		err = channel.ExchangeDeclare(
			cfg.Exchange,
			cfg.ExchangeType,
			cfg.Durable,
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fail("declare exchange", err)
		}
	}

	if cfg.DeclareQueue {
		queue, err := channel.QueueDeclare(cfg.RoutingKey, cfg.Durable, false, false, false, nil)
		if err != nil {
			return fail("declare queue", err)
		}
		if cfg.Exchange != "" {
			if err := channel.QueueBind(queue.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
				return fail("bind queue", err)
			}
		}
	}

	if err := channel.Confirm(false); err != nil {
		return fail("put channel in confirm mode", err)
	}

	p := newRabbitMQProducer(confirmChannel{channel}, cfg, logger)
	p.conn = conn
	return p, nil
}

func newRabbitMQProducer(channel confirmPublisher, cfg RabbitConfig, logger zerolog.Logger) *RabbitMQProducer {
	return &RabbitMQProducer{
		channel: channel,
		config:  cfg,
		logger:  logger.With().Str("component", "RabbitMQProducer").Str("destination", cfg.destination()).Logger(),
	}
}

func (p *RabbitMQProducer) SendMessage(ctx context.Context, headers MessageHeaders, data []byte) error {
	deliveryMode := amqp.Transient
	if p.config.Persistent {
		deliveryMode = amqp.Persistent
	}

	publishing := amqp.Publishing{
		DeliveryMode: deliveryMode,
		ContentType:  headers.ContentType,
		Body:         data,
		MessageId:    headers.IdempotencyKey,
		Timestamp:    time.Now(),
		Headers:      amqpTable(headers),
	}

	confirm, err := p.channel.Publish(ctx, p.config.Exchange, p.config.RoutingKey, publishing)
	if err != nil {
		return p.publishError(err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return p.publishError(err)
	}
	if !acked {
		return p.publishError(fmt.Errorf("publish not confirmed by broker"))
	}

	p.logger.Debug().Int("line", headers.LineNumber).Msg("Message confirmed")
	return nil
}

func (p *RabbitMQProducer) publishError(err error) error {
	return &PublishError{Broker: brokerRabbitMQ, Topic: p.config.destination(), Err: err}
}

// Flush is a no-op: every publish waits for its confirmation.
func (p *RabbitMQProducer) Flush(context.Context) error {
	return nil
}

func (p *RabbitMQProducer) Close() error {
	var result *multierror.Error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close channel: %w", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close connection: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func amqpTable(h MessageHeaders) amqp.Table {
	table := amqp.Table{}
	for key, value := range h.Map() {
		table[key] = value
	}
	return table
}
