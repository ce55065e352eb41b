package producer

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const brokerPubSub = "pubsub"

// PubSubProducer publishes to a Google Cloud Pub/Sub topic and waits for the
// server-assigned message ID before returning.
type PubSubProducer struct {
	client     *pubsub.Client
	topic      *pubsub.Topic
	ownsClient bool
	logger     zerolog.Logger
}

type PubSubConfig struct {
	ProjectID string
	TopicID   string
	// Endpoint points the client at an emulator, e.g. localhost:8085.
	Endpoint string
	// DialTimeout bounds the topic existence check.
	DialTimeout time.Duration
}

func NewPubSubProducer(ctx context.Context, cfg PubSubConfig, logger zerolog.Logger, opts ...option.ClientOption) (*PubSubProducer, error) {
	if cfg.Endpoint != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.Endpoint),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			option.WithoutAuthentication(),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: failed to create client: %w", err)
	}

	checkCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	p, err := NewPubSubProducerFromClient(checkCtx, client, cfg.TopicID, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.ownsClient = true
	return p, nil
}

// NewPubSubProducerFromClient uses an existing client; Close leaves the client open.
func NewPubSubProducerFromClient(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*PubSubProducer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("pubsub: failed to check topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub: topic %s does not exist", topicID)
	}
	topic.PublishSettings.CountThreshold = 1

	return &PubSubProducer{
		client: client,
		topic:  topic,
		logger: logger.With().Str("component", "PubSubProducer").Str("topic_id", topicID).Logger(),
	}, nil
}

func (p *PubSubProducer) SendMessage(ctx context.Context, headers MessageHeaders, data []byte) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: headers.Map(),
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		return &PublishError{Broker: brokerPubSub, Topic: p.topic.ID(), Err: err}
	}

	p.logger.Debug().Int("line", headers.LineNumber).Str("msg_id", msgID).Msg("Message published")
	return nil
}

func (p *PubSubProducer) Flush(context.Context) error {
	p.topic.Flush()
	return nil
}

func (p *PubSubProducer) Close() error {
	p.topic.Stop()
	if !p.ownsClient {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
