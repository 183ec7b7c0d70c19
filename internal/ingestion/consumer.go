package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pipetrace-io/pipetrace/internal/config"
	"github.com/pipetrace-io/pipetrace/internal/metadata"
)

const (
	defaultMinBytes       = 1
	defaultMaxBytes       = 1 << 20 // 1 MiB
	defaultCommitInterval = time.Second
	retryBackoff          = 2 * time.Second
)

var (
	// ErrNoBrokers is returned when the consumer configuration lists no Kafka brokers.
	ErrNoBrokers = errors.New("kafka brokers cannot be empty")

	// ErrNoTopic is returned when the consumer configuration names no topic.
	ErrNoTopic = errors.New("kafka topic cannot be empty")

	// ErrNilRecorder is returned when a consumer is created without a recorder.
	ErrNilRecorder = errors.New("recorder cannot be nil")
)

type (
	// ConsumerConfig holds the Kafka consumer settings.
	ConsumerConfig struct {
		Brokers        []string
		Topic          string
		GroupID        string
		MinBytes       int
		MaxBytes       int
		CommitInterval time.Duration
	}

	// Consumer reads run events from a Kafka topic and records them through a
	// Recorder. Messages that fail validation are logged and committed so a
	// malformed event cannot wedge the partition; store failures are retried
	// without committing.
	Consumer struct {
		reader   *kafka.Reader
		recorder Recorder
		logger   *slog.Logger
	}

	// ConsumerOption configures optional Consumer behavior.
	ConsumerOption func(*Consumer)
)

// LoadConsumerConfig reads the Kafka consumer settings from the environment.
func LoadConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:        config.ParseCommaSeparatedList(config.GetEnvStr("PIPETRACE_KAFKA_BROKERS", "localhost:9092")),
		Topic:          config.GetEnvStr("PIPETRACE_KAFKA_TOPIC", "pipetrace.run-events"),
		GroupID:        config.GetEnvStr("PIPETRACE_KAFKA_GROUP_ID", "pipetrace-ingester"),
		MinBytes:       config.GetEnvInt("PIPETRACE_KAFKA_MIN_BYTES", defaultMinBytes),
		MaxBytes:       config.GetEnvInt("PIPETRACE_KAFKA_MAX_BYTES", defaultMaxBytes),
		CommitInterval: config.GetEnvDuration("PIPETRACE_KAFKA_COMMIT_INTERVAL", defaultCommitInterval),
	}
}

// Validate checks the consumer configuration.
func (c *ConsumerConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}

	if strings.TrimSpace(c.Topic) == "" {
		return ErrNoTopic
	}

	return nil
}

// WithConsumerLogger sets the consumer logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a Kafka consumer that records run events through the
// given recorder.
func NewConsumer(cfg *ConsumerConfig, recorder Recorder, opts ...ConsumerOption) (*Consumer, error) {
	if recorder == nil {
		return nil, ErrNilRecorder
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	consumer := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       cfg.MinBytes,
			MaxBytes:       cfg.MaxBytes,
			CommitInterval: cfg.CommitInterval,
		}),
		recorder: recorder,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(consumer)
	}

	return consumer, nil
}

// Run consumes messages until the context is cancelled. It returns nil on
// cancellation and the underlying error if the reader fails otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer started",
		slog.String("topic", c.reader.Config().Topic),
		slog.String("group_id", c.reader.Config().GroupID),
	)

	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			return fmt.Errorf("failed to fetch message: %w", err)
		}

		for {
			err := c.processMessage(ctx, message.Value)
			if err == nil {
				break
			}

			c.logger.Error("Failed to record run event, retrying",
				slog.String("error", err.Error()),
				slog.Int64("offset", message.Offset),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryBackoff):
			}
		}

		if err := c.reader.CommitMessages(ctx, message); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}

			return fmt.Errorf("failed to commit message: %w", err)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// processMessage decodes, validates and records one message payload. A
// payload that cannot be decoded or validated is logged and dropped; only
// recorder failures propagate, so they are retried instead of committed.
func (c *Consumer) processMessage(ctx context.Context, payload []byte) error {
	var event RunEvent

	if err := json.Unmarshal(payload, &event); err != nil {
		c.logger.Warn("Dropping undecodable run event", slog.String("error", err.Error()))

		return nil
	}

	if err := Validate(&event); err != nil {
		c.logger.Warn("Dropping invalid run event",
			slog.String("error", err.Error()),
			slog.String("pipeline", event.PipelineName),
			slog.String("run", event.RunName),
		)

		return nil
	}

	if err := c.recorder.RecordRunEvent(ctx, &event); err != nil {
		// Store outages are worth retrying; anything else is a bad event.
		var storeErr *metadata.StoreError
		if errors.As(err, &storeErr) {
			return err
		}

		c.logger.Warn("Dropping unrecordable run event",
			slog.String("error", err.Error()),
			slog.String("pipeline", event.PipelineName),
			slog.String("run", event.RunName),
		)
	}

	return nil
}
