package processor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/SoulStalker/hex_producer/internal/hexline"
	"github.com/SoulStalker/hex_producer/internal/producer"
	"github.com/rs/zerolog"
)

const (
	DefaultDelay          = 200 * time.Millisecond
	DefaultPublishTimeout = 10 * time.Second
)

// Report counts what happened to the lines of one file.
type Report struct {
	Lines         int
	Published     int
	Skipped       int
	DecodeFailed  int
	PublishFailed int
}

// Failed returns the number of lines that were neither published nor skipped.
func (r Report) Failed() int {
	return r.DecodeFailed + r.PublishFailed
}

// LineSender publishes every hex line of a file as one message, one at a time.
type LineSender struct {
	producer       producer.MessageProducer
	delay          time.Duration
	publishTimeout time.Duration
	logger         zerolog.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

func NewLineSender(p producer.MessageProducer, delay, publishTimeout time.Duration, logger zerolog.Logger) (*LineSender, error) {
	if p == nil {
		return nil, fmt.Errorf("producer cannot be nil")
	}
	if delay < 0 {
		return nil, fmt.Errorf("delay cannot be negative: %v", delay)
	}
	if publishTimeout <= 0 {
		publishTimeout = DefaultPublishTimeout
	}

	return &LineSender{
		producer:       p,
		delay:          delay,
		publishTimeout: publishTimeout,
		logger:         logger.With().Str("component", "LineSender").Logger(),
		sleep:          sleepContext,
	}, nil
}

// Run sends the lines of filePath in order. Per-line failures are logged and
// counted; only failing to open or read the file, or ctx ending, stop the run.
func (s *LineSender) Run(ctx context.Context, filePath string) (Report, error) {
	var report Report

	file, err := os.Open(filePath)
	if err != nil {
		return report, fmt.Errorf("open input file: %w", err)
	}
	defer file.Close()

	fileName := filepath.Base(filePath)
	reader := bufio.NewReader(file)

	for lineNumber := 1; ; lineNumber++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return report, fmt.Errorf("read line %d: %w", lineNumber, readErr)
		}
		if errors.Is(readErr, io.EOF) && line == "" {
			break
		}

		report.Lines++
		s.logger.Info().Int("line", lineNumber).Msgf("Processing line %d...", lineNumber)
		s.processLine(ctx, fileName, lineNumber, line, &report)

		if err := s.sleep(ctx, s.delay); err != nil {
			return report, err
		}
		if readErr != nil {
			break
		}
	}

	s.logger.Info().
		Str("file", filePath).
		Int("lines", report.Lines).
		Int("published", report.Published).
		Int("skipped", report.Skipped).
		Int("decode_failed", report.DecodeFailed).
		Int("publish_failed", report.PublishFailed).
		Msg("Finished processing file")
	return report, nil
}

func (s *LineSender) processLine(ctx context.Context, fileName string, lineNumber int, line string, report *Report) {
	payload, skip, err := hexline.Decode(line)
	if skip {
		report.Skipped++
		s.logger.Debug().Int("line", lineNumber).Msg("Skipping blank line")
		return
	}
	if err != nil {
		report.DecodeFailed++
		s.logger.Error().Err(err).Int("line", lineNumber).Msg(" -> FAILED to decode")
		return
	}

	s.logger.Info().Int("line", lineNumber).Str("payload", hexline.Encode(payload)).Msg("Sending payload")

	if err := s.publish(ctx, producer.NewMessageHeaders(fileName, lineNumber, payload), payload); err != nil {
		report.PublishFailed++
		s.logger.Error().Err(err).Int("line", lineNumber).Msg(" -> FAILED to send")
		return
	}

	report.Published++
	s.logger.Info().Int("line", lineNumber).Msg(" -> Sent successfully.")
}

func (s *LineSender) publish(ctx context.Context, headers producer.MessageHeaders, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	return s.producer.SendMessage(ctx, headers, payload)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
