package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const brokerNATS = "nats"

// NATSProducer publishes to a NATS subject. With JetStream enabled the
// broker's PubAck is the acknowledgment; on core NATS a round-trip flush
// confirms the server received the message.
type NATSProducer struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config NATSConfig
	logger zerolog.Logger
}

type NATSConfig struct {
	URL         string
	Subject     string
	JetStream   bool
	DialTimeout time.Duration
}

func NewNATSProducer(cfg NATSConfig, logger zerolog.Logger) (*NATSProducer, error) {
	logger = logger.With().Str("component", "NATSProducer").Str("subject", cfg.Subject).Logger()

	conn, err := nats.Connect(cfg.URL,
		nats.Name("hex_producer"),
		nats.Timeout(cfg.DialTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("NATS disconnected")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: failed to connect to %s: %w", cfg.URL, err)
	}

	p := &NATSProducer{conn: conn, config: cfg, logger: logger}
	if cfg.JetStream {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("nats: failed to get jetstream context: %w", err)
		}
		p.js = js
	}
	return p, nil
}

func (p *NATSProducer) SendMessage(ctx context.Context, headers MessageHeaders, data []byte) error {
	msg := nats.NewMsg(p.config.Subject)
	msg.Data = data
	for key, value := range headers.Map() {
		msg.Header.Set(key, value)
	}

	if p.js != nil {
		ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
		if err != nil {
			return &PublishError{Broker: brokerNATS, Topic: p.config.Subject, Err: err}
		}
		p.logger.Debug().Int("line", headers.LineNumber).Str("stream", ack.Stream).Uint64("seq", ack.Sequence).Msg("Message acknowledged")
		return nil
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return &PublishError{Broker: brokerNATS, Topic: p.config.Subject, Err: err}
	}
	if err := p.flush(ctx); err != nil {
		return &PublishError{Broker: brokerNATS, Topic: p.config.Subject, Err: err}
	}
	p.logger.Debug().Int("line", headers.LineNumber).Msg("Message flushed")
	return nil
}

func (p *NATSProducer) Flush(ctx context.Context) error {
	if err := p.flush(ctx); err != nil {
		return fmt.Errorf("nats: flush: %w", err)
	}
	return nil
}

// flush uses FlushWithContext, which refuses contexts without a deadline.
func (p *NATSProducer) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		return p.conn.FlushTimeout(p.config.DialTimeout)
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *NATSProducer) Close() error {
	if p.conn != nil && !p.conn.IsClosed() {
		p.conn.Close()
	}
	return nil
}
