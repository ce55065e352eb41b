package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SoulStalker/hex_producer/internal/config"
	"github.com/SoulStalker/hex_producer/internal/processor"
	"github.com/SoulStalker/hex_producer/internal/producer"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	flags := flag.NewFlagSet("hex_producer", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file (optional)")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "Reads a file where each line is a space-separated hex string and sends each line as a separate message.")
		fmt.Fprintln(stderr, "\nUsage: hex_producer [-config path] <file>")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return exitUsage
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return exitUsage
	}
	filePath := flags.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	logger := newLogger(cfg.Log, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("broker", cfg.Broker).
		Str("address", cfg.Address()).
		Str("topic", cfg.Topic()).
		Str("file", filePath).
		Msg("--- Producer ---")

	p, err := newProducer(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to broker")
		return exitError
	}
	defer closeProducer(p, cfg.Sender.PublishTimeout, logger)

	sender, err := processor.NewLineSender(p, cfg.Sender.Delay, cfg.Sender.PublishTimeout, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create line sender")
		return exitError
	}

	if _, err := sender.Run(ctx, filePath); err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Error().Str("file", filePath).Msg("File not found")
		case errors.Is(err, context.Canceled):
			logger.Warn().Msg("Interrupted, stopping")
		default:
			logger.Error().Err(err).Msg("An error occurred")
		}
		return exitError
	}
	return exitOK
}

// closeProducer flushes and closes the broker client. It runs on every exit
// path once a producer exists, so it must not depend on the run context.
func closeProducer(p producer.MessageProducer, timeout time.Duration, logger zerolog.Logger) {
	logger.Info().Msg("Flushing and closing producer...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var result *multierror.Error
	if err := p.Flush(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		logger.Error().Err(err).Msg("Failed to flush or close producer")
	}
	logger.Info().Msg("--- End ---")
}
