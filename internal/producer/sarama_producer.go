package producer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog"
)

// SaramaProducer publishes to Kafka through a sarama synchronous producer.
type SaramaProducer struct {
	producer sarama.SyncProducer
	topic    string
	logger   zerolog.Logger
}

type SaramaConfig struct {
	Brokers      []string
	Topic        string
	MaxAttempts  int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	Compression  string
	RequiredAcks string
}

// NewSaramaConfig translates SaramaConfig into a sarama client configuration.
func NewSaramaConfig(cfg SaramaConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "hex_producer"
	config.Version = sarama.V2_1_0_0
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	if cfg.DialTimeout > 0 {
		config.Net.DialTimeout = cfg.DialTimeout
		config.Metadata.Timeout = cfg.DialTimeout
	}
	if cfg.WriteTimeout > 0 {
		config.Producer.Timeout = cfg.WriteTimeout
	}
	config.Producer.Compression = saramaCompression(cfg.Compression)
	config.Producer.RequiredAcks = saramaRequiredAcks(cfg.RequiredAcks)
	if cfg.MaxAttempts > 0 {
		config.Producer.Retry.Max = cfg.MaxAttempts - 1
	}
	return config
}

func NewSaramaProducer(cfg SaramaConfig, logger zerolog.Logger) (*SaramaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka/sarama: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka/sarama: topic is required")
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("kafka/sarama: failed to create sync producer: %w", err)
	}
	return newSaramaProducer(producer, cfg.Topic, logger), nil
}

func newSaramaProducer(producer sarama.SyncProducer, topic string, logger zerolog.Logger) *SaramaProducer {
	return &SaramaProducer{
		producer: producer,
		topic:    topic,
		logger:   logger.With().Str("component", "SaramaProducer").Str("topic", topic).Logger(),
	}
}

type sendResult struct {
	partition int32
	offset    int64
	err       error
}

// SendMessage hands the message to sarama and waits for the result or ctx.
// sarama bounds the send itself through Producer.Timeout and Retry.Max.
func (p *SaramaProducer) SendMessage(ctx context.Context, headers MessageHeaders, data []byte) error {
	if err := ctx.Err(); err != nil {
		return &PublishError{Broker: brokerKafka, Topic: p.topic, Err: err}
	}

	msg := &sarama.ProducerMessage{
		Topic:   p.topic,
		Value:   sarama.ByteEncoder(data),
		Headers: saramaHeaders(headers),
	}

	done := make(chan sendResult, 1)
	go func() {
		partition, offset, err := p.producer.SendMessage(msg)
		done <- sendResult{partition: partition, offset: offset, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return &PublishError{Broker: brokerKafka, Topic: p.topic, Err: res.err}
		}
		p.logger.Debug().
			Int("line", headers.LineNumber).
			Int32("partition", res.partition).
			Int64("offset", res.offset).
			Msg("Message acknowledged")
		return nil
	case <-ctx.Done():
		return &PublishError{Broker: brokerKafka, Topic: p.topic, Err: ctx.Err()}
	}
}

// Flush is a no-op: the sync producer returns only after the broker answered.
func (p *SaramaProducer) Flush(context.Context) error {
	return nil
}

func (p *SaramaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close sarama producer: %w", err)
	}
	return nil
}

func saramaHeaders(h MessageHeaders) []sarama.RecordHeader {
	m := h.Map()
	headers := make([]sarama.RecordHeader, 0, len(m))
	for _, key := range headerOrder {
		if v, ok := m[key]; ok {
			headers = append(headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(v)})
		}
	}
	return headers
}

func saramaCompression(compression string) sarama.CompressionCodec {
	switch strings.ToLower(compression) {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}

func saramaRequiredAcks(acks string) sarama.RequiredAcks {
	switch strings.ToLower(acks) {
	case "none", "0":
		return sarama.NoResponse
	case "all", "-1":
		return sarama.WaitForAll
	default:
		return sarama.WaitForLocal
	}
}
