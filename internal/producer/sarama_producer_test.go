package producer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaramaProducer_SendMessage(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !bytes.Equal(val, []byte{0x48, 0x69}) {
			return fmt.Errorf("unexpected payload % X", val)
		}
		return nil
	})
	mockProducer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	p := newSaramaProducer(mockProducer, "aws-connect", zerolog.Nop())

	require.NoError(t, p.SendMessage(context.Background(), NewMessageHeaders("in.txt", 1, []byte{0x48, 0x69}), []byte{0x48, 0x69}))

	err := p.SendMessage(context.Background(), NewMessageHeaders("in.txt", 2, []byte{0x01}), []byte{0x01})
	var publishErr *PublishError
	require.True(t, errors.As(err, &publishErr))
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)

	require.NoError(t, p.Flush(context.Background()))
	require.NoError(t, p.Close())
}

func TestSaramaProducer_ContextDone(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	p := newSaramaProducer(mockProducer, "aws-connect", zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	err := p.SendMessage(ctx, MessageHeaders{}, []byte{0x01})
	var publishErr *PublishError
	require.True(t, errors.As(err, &publishErr))
	assert.True(t, publishErr.Timeout())
	require.NoError(t, p.Close())
}

func TestNewSaramaConfig(t *testing.T) {
	cfg := NewSaramaConfig(SaramaConfig{
		DialTimeout:  2 * time.Second,
		WriteTimeout: 10 * time.Second,
		MaxAttempts:  3,
		Compression:  "lz4",
		RequiredAcks: "all",
	})

	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Producer.Return.Successes)
	assert.Equal(t, 2*time.Second, cfg.Net.DialTimeout)
	assert.Equal(t, 10*time.Second, cfg.Producer.Timeout)
	assert.Equal(t, 2, cfg.Producer.Retry.Max)
	assert.Equal(t, sarama.CompressionLZ4, cfg.Producer.Compression)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
}

func TestNewSaramaProducer_Validation(t *testing.T) {
	_, err := NewSaramaProducer(SaramaConfig{Topic: "aws-connect"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSaramaProducer(SaramaConfig{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	assert.Error(t, err)
}
