package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNATSServer(t *testing.T, jetStream bool) string {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = jetStream
	opts.StoreDir = t.TempDir()

	srv := natstest.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func connectNATS(t *testing.T, url string) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func publishContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNATSProducer_CorePublish(t *testing.T) {
	url := runNATSServer(t, false)

	nc := connectNATS(t, url)
	sub, err := nc.SubscribeSync("aws-connect")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p, err := NewNATSProducer(NATSConfig{URL: url, Subject: "aws-connect", DialTimeout: 2 * time.Second}, zerolog.Nop())
	require.NoError(t, err)

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, p.SendMessage(publishContext(t), NewMessageHeaders("in.txt", 4, payload), payload))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, msg.Data)
	assert.Equal(t, "in.txt", msg.Header.Get("filename"))
	assert.Equal(t, "4", msg.Header.Get("line"))

	require.NoError(t, p.Flush(publishContext(t)))
	require.NoError(t, p.Flush(context.Background()), "flush without a deadline falls back to the dial timeout")
	require.NoError(t, p.Close())

	err = p.SendMessage(publishContext(t), MessageHeaders{}, []byte{0x01})
	var publishErr *PublishError
	require.True(t, errors.As(err, &publishErr))
	assert.Equal(t, "aws-connect", publishErr.Topic)
	assert.ErrorIs(t, err, nats.ErrConnectionClosed)
}

func TestNATSProducer_JetStreamPublish(t *testing.T) {
	url := runNATSServer(t, true)

	js, err := connectNATS(t, url).JetStream()
	require.NoError(t, err)
	_, err = js.AddStream(&nats.StreamConfig{Name: "HEX", Subjects: []string{"aws-connect"}})
	require.NoError(t, err)

	p, err := NewNATSProducer(NATSConfig{URL: url, Subject: "aws-connect", JetStream: true, DialTimeout: 2 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	payload := []byte{0x48, 0x69}
	require.NoError(t, p.SendMessage(publishContext(t), NewMessageHeaders("in.txt", 3, payload), payload))

	stored, err := js.GetLastMsg("HEX", "aws-connect")
	require.NoError(t, err)
	assert.Equal(t, payload, stored.Data)
	assert.Equal(t, "3", stored.Header.Get("line"))
}

func TestNATSProducer_JetStreamWithoutStream(t *testing.T) {
	url := runNATSServer(t, true)

	p, err := NewNATSProducer(NATSConfig{URL: url, Subject: "unbound", JetStream: true, DialTimeout: 2 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	err = p.SendMessage(publishContext(t), MessageHeaders{}, []byte{0x01})

	var publishErr *PublishError
	require.True(t, errors.As(err, &publishErr))
	assert.Equal(t, "unbound", publishErr.Topic)
}
