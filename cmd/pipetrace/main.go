// Package main provides the pipetrace lineage query API service.
//
// The service answers pipeline status, run outcome and artifact provenance
// queries over the metadata graph, and accepts run events through its HTTP
// ingest endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/pipetrace-io/pipetrace/internal/api"
	"github.com/pipetrace-io/pipetrace/internal/api/middleware"
	"github.com/pipetrace-io/pipetrace/internal/config"
	"github.com/pipetrace-io/pipetrace/internal/lineage"
	"github.com/pipetrace-io/pipetrace/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "pipetrace"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting pipetrace service",
		slog.String("service", name),
		slog.String("version", version),
	)

	storageConfig, err := loadStorageConfig()
	if err != nil {
		logger.Error("Failed to load store configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.Connect(context.Background(), storageConfig)
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

		logger.Info("Schema migrations applied", slog.String("dialect", conn.Dialect()))
	}

	store, err := storage.NewMetadataStore(conn)
	if err != nil {
		logger.Error("Failed to create metadata store", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	resolver, err := lineage.NewResolver(store, lineage.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to create lineage resolver", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	verifier := middleware.LoadStaticTokenVerifier()
	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadRateLimitConfig())

	// A nil *StaticTokenVerifier stored in the interface is not a nil
	// interface; keep the interface nil when auth is disabled.
	var tokenVerifier middleware.TokenVerifier
	if verifier != nil {
		tokenVerifier = verifier
	}

	server := api.NewServer(serverConfig, resolver, store, tokenVerifier, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start", slog.String("error", err.Error()))

		_ = conn.Close()
		os.Exit(1)
	}

	logger.Info("pipetrace service stopped")
}

// loadStorageConfig reads the store configuration from the YAML file named by
// PIPETRACE_STORE_CONFIG, falling back to plain environment variables.
func loadStorageConfig() (*storage.Config, error) {
	if path := config.GetEnvStr("PIPETRACE_STORE_CONFIG", ""); path != "" {
		return storage.LoadConfig(path)
	}

	return storage.LoadConfigFromEnv(), nil
}
