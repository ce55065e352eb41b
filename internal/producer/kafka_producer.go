package producer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const brokerKafka = "kafka"

// messageWriter is the part of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer messageWriter
	config ProducerConfig
	logger zerolog.Logger
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Compression  kafka.Compression
	RequiredAcks kafka.RequiredAcks
}

func NewKafkaProducer(cfg ProducerConfig, logger zerolog.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	// One message per batch so a synchronous write returns as soon as it is acknowledged.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    1,
		BatchTimeout: time.Millisecond,
		Compression:  cfg.Compression,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.WriteTimeout,
		RequiredAcks: cfg.RequiredAcks,
		Async:        false,
		Transport: &kafka.Transport{
			DialTimeout: cfg.DialTimeout,
			ClientID:    "hex_producer",
		},
	}

	return newKafkaProducer(writer, cfg, logger), nil
}

func newKafkaProducer(writer messageWriter, cfg ProducerConfig, logger zerolog.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: writer,
		config: cfg,
		logger: logger.With().Str("component", "KafkaProducer").Str("topic", cfg.Topic).Logger(),
	}
}

func (p *KafkaProducer) SendMessage(ctx context.Context, headers MessageHeaders, data []byte) error {
	message := kafka.Message{
		Value:   data,
		Headers: kafkaHeaders(headers),
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return &PublishError{Broker: brokerKafka, Topic: p.config.Topic, Err: err}
	}

	p.logger.Debug().Int("line", headers.LineNumber).Int("bytes", len(data)).Msg("Message acknowledged")
	return nil
}

// Flush is a no-op: every write is synchronous.
func (p *KafkaProducer) Flush(context.Context) error {
	return nil
}

func (p *KafkaProducer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

func kafkaHeaders(h MessageHeaders) []kafka.Header {
	m := h.Map()
	headers := make([]kafka.Header, 0, len(m))
	for _, key := range headerOrder {
		if v, ok := m[key]; ok {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(v)})
		}
	}
	return headers
}

var headerOrder = []string{"filename", "line", "timestamp", "idempotency-key", "content-type"}

func GetCompression(compression string) kafka.Compression {
	switch strings.ToLower(compression) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func GetRequiredAcks(acks string) kafka.RequiredAcks {
	switch strings.ToLower(acks) {
	case "none", "0":
		return kafka.RequireNone
	case "all", "-1":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}
