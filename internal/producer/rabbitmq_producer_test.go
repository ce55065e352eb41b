package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfirm struct {
	acked bool
	err   error
	block bool
}

func (c fakeConfirm) WaitContext(ctx context.Context) (bool, error) {
	if c.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return c.acked, c.err
}

type publishCall struct {
	exchange   string
	routingKey string
	msg        amqp.Publishing
}

type fakeConfirmPublisher struct {
	confirm    fakeConfirm
	publishErr error
	calls      []publishCall
	closed     bool
}

func (f *fakeConfirmPublisher) Publish(_ context.Context, exchange, routingKey string, msg amqp.Publishing) (deferredConfirm, error) {
	f.calls = append(f.calls, publishCall{exchange: exchange, routingKey: routingKey, msg: msg})
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	return f.confirm, nil
}

func (f *fakeConfirmPublisher) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQProducer_SendMessage(t *testing.T) {
	cfg := RabbitConfig{Exchange: "payloads", RoutingKey: "hex", Persistent: true}

	t.Run("confirmed", func(t *testing.T) {
		channel := &fakeConfirmPublisher{confirm: fakeConfirm{acked: true}}
		p := newRabbitMQProducer(channel, cfg, zerolog.Nop())

		headers := NewMessageHeaders("in.txt", 2, []byte{0x48, 0x69})
		require.NoError(t, p.SendMessage(context.Background(), headers, []byte{0x48, 0x69}))

		require.Len(t, channel.calls, 1)
		call := channel.calls[0]
		assert.Equal(t, "payloads", call.exchange)
		assert.Equal(t, "hex", call.routingKey)
		assert.Equal(t, []byte{0x48, 0x69}, call.msg.Body)
		assert.Equal(t, amqp.Persistent, call.msg.DeliveryMode)
		assert.Equal(t, headers.IdempotencyKey, call.msg.MessageId)
		assert.Equal(t, ContentTypeOctetStream, call.msg.ContentType)
		assert.Equal(t, "in.txt", call.msg.Headers["filename"])
		assert.Equal(t, "2", call.msg.Headers["line"])

		require.NoError(t, p.Flush(context.Background()))
		require.NoError(t, p.Close())
		assert.True(t, channel.closed)
	})

	t.Run("nacked by broker", func(t *testing.T) {
		p := newRabbitMQProducer(&fakeConfirmPublisher{confirm: fakeConfirm{acked: false}}, cfg, zerolog.Nop())

		err := p.SendMessage(context.Background(), MessageHeaders{}, []byte{0x01})

		var publishErr *PublishError
		require.True(t, errors.As(err, &publishErr))
		assert.Equal(t, "payloads/hex", publishErr.Topic)
		assert.Contains(t, err.Error(), "publish not confirmed by broker")
		assert.False(t, publishErr.Timeout())
	})

	t.Run("publish fails", func(t *testing.T) {
		p := newRabbitMQProducer(&fakeConfirmPublisher{publishErr: amqp.ErrClosed}, cfg, zerolog.Nop())

		err := p.SendMessage(context.Background(), MessageHeaders{}, []byte{0x01})

		var publishErr *PublishError
		require.True(t, errors.As(err, &publishErr))
		assert.ErrorIs(t, err, amqp.ErrClosed)
	})

	t.Run("confirmation times out", func(t *testing.T) {
		p := newRabbitMQProducer(&fakeConfirmPublisher{confirm: fakeConfirm{block: true}}, cfg, zerolog.Nop())
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := p.SendMessage(ctx, MessageHeaders{}, []byte{0x01})

		var publishErr *PublishError
		require.True(t, errors.As(err, &publishErr))
		assert.True(t, publishErr.Timeout())
	})

	t.Run("transient delivery", func(t *testing.T) {
		channel := &fakeConfirmPublisher{confirm: fakeConfirm{acked: true}}
		p := newRabbitMQProducer(channel, RabbitConfig{RoutingKey: "aws-connect"}, zerolog.Nop())

		require.NoError(t, p.SendMessage(context.Background(), MessageHeaders{}, []byte{0x01}))
		assert.Equal(t, amqp.Transient, channel.calls[0].msg.DeliveryMode)
		assert.Equal(t, "", channel.calls[0].exchange)
	})
}

func TestNewRabbitMQProducer_RequiresRoutingKey(t *testing.T) {
	p, err := NewRabbitMQProducer(RabbitConfig{URL: "amqp://guest:guest@" + unreachable + "/"}, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "routing key is required")
	assert.Nil(t, p)
}
