package producer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const ContentTypeOctetStream = "application/octet-stream"

// MessageProducer is the common interface of all message brokers.
// SendMessage blocks until the broker acknowledges the message or ctx ends.
type MessageProducer interface {
	SendMessage(ctx context.Context, headers MessageHeaders, data []byte) error
	Flush(ctx context.Context) error
	Close() error
}

// MessageHeaders holds the message metadata.
type MessageHeaders struct {
	FileName       string
	LineNumber     int
	Timestamp      string
	IdempotencyKey string
	ContentType    string
}

// NewMessageHeaders fills in timestamp, idempotency key and content type for one line.
func NewMessageHeaders(fileName string, lineNumber int, data []byte) MessageHeaders {
	return MessageHeaders{
		FileName:       fileName,
		LineNumber:     lineNumber,
		Timestamp:      time.Now().Format(time.RFC3339),
		IdempotencyKey: generateIdempotencyKey(fileName, lineNumber, data),
		ContentType:    ContentTypeOctetStream,
	}
}

// Map returns the non-empty headers keyed by their wire names.
func (h MessageHeaders) Map() map[string]string {
	m := make(map[string]string, 5)
	if h.FileName != "" {
		m["filename"] = h.FileName
	}
	if h.LineNumber > 0 {
		m["line"] = strconv.Itoa(h.LineNumber)
	}
	if h.Timestamp != "" {
		m["timestamp"] = h.Timestamp
	}
	if h.IdempotencyKey != "" {
		m["idempotency-key"] = h.IdempotencyKey
	}
	if h.ContentType != "" {
		m["content-type"] = h.ContentType
	}
	return m
}

// PublishError is returned when a message is rejected or not acknowledged in time.
type PublishError struct {
	Broker string
	Topic  string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s: publish to %q: %v", e.Broker, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the acknowledgment wait ran out.
func (e *PublishError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

func generateIdempotencyKey(fileName string, lineNumber int, data []byte) string {
	hash := md5.New()
	hash.Write([]byte(fileName))
	hash.Write([]byte(strconv.Itoa(lineNumber)))
	hash.Write(data)
	return hex.EncodeToString(hash.Sum(nil))
}
