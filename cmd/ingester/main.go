// Package main provides the pipetrace run event ingester.
//
// The ingester consumes run events from Kafka and records them into the
// metadata store, where the query API serves them back as lineage.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pipetrace-io/pipetrace/internal/config"
	"github.com/pipetrace-io/pipetrace/internal/ingestion"
	"github.com/pipetrace-io/pipetrace/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "ingester"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting pipetrace ingester",
		slog.String("service", name),
		slog.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storageConfig, err := loadStorageConfig()
	if err != nil {
		logger.Error("Failed to load store configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.Connect(ctx, storageConfig)
	if err != nil {
		logger.Error("Failed to connect to metadata store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = conn.Close()
	}()

	if config.GetEnvBool("PIPETRACE_AUTO_MIGRATE", true) {
		if err := conn.Migrate(); err != nil {
			logger.Error("Failed to apply migrations", slog.String("error", err.Error()))

			_ = conn.Close()
			os.Exit(1)
		}
	}

	store, err := storage.NewMetadataStore(conn)
	if err != nil {
		logger.Error("Failed to create metadata store", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	consumerConfig := ingestion.LoadConsumerConfig()

	consumer, err := ingestion.NewConsumer(consumerConfig, store, ingestion.WithConsumerLogger(logger))
	if err != nil {
		logger.Error("Failed to create consumer", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	defer func() {
		_ = consumer.Close()
	}()

	logger.Info("Consuming run events",
		slog.Any("brokers", consumerConfig.Brokers),
		slog.String("topic", consumerConfig.Topic),
		slog.String("group_id", consumerConfig.GroupID),
	)

	if err := consumer.Run(ctx); err != nil {
		logger.Error("Consumer stopped with error", slog.String("error", err.Error()))

		_ = consumer.Close()
		_ = conn.Close()
		os.Exit(1)
	}

	logger.Info("pipetrace ingester stopped")
}

// loadStorageConfig reads the store configuration from the YAML file named by
// PIPETRACE_STORE_CONFIG, falling back to plain environment variables.
func loadStorageConfig() (*storage.Config, error) {
	if path := config.GetEnvStr("PIPETRACE_STORE_CONFIG", ""); path != "" {
		return storage.LoadConfig(path)
	}

	return storage.LoadConfigFromEnv(), nil
}
