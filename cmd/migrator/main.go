// Package main provides the schema migration CLI for the pipetrace metadata
// store.
//
// Migrations are embedded in the binary per dialect, so deployments need no
// migration files on disk. The store is selected with the same
// PIPETRACE_STORE_* environment variables the services use.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pipetrace-io/pipetrace/internal/config"
	"github.com/pipetrace-io/pipetrace/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "migrator"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	command := flag.Arg(0)

	cfg, err := loadStorageConfig()
	if err != nil {
		log.Fatalf("Failed to load store configuration: %v", err)
	}

	runner, err := NewMigrationRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}

	defer func() {
		_ = runner.Close()
	}()

	if err := executeCommand(command, runner); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// executeCommand runs the specified migration command.
func executeCommand(command string, runner MigrationRunner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		fmt.Print("WARNING: This will drop all tables. Are you sure? (y/N): ")

		var response string

		_, _ = fmt.Scanln(&response)

		if response == "y" || response == "Y" {
			return runner.Drop()
		}

		fmt.Println("Operation cancelled.")

		return nil
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func loadStorageConfig() (*storage.Config, error) {
	if path := config.GetEnvStr("PIPETRACE_STORE_CONFIG", ""); path != "" {
		return storage.LoadConfig(path)
	}

	return storage.LoadConfigFromEnv(), nil
}

// printUsage displays usage information.
func printUsage() {
	fmt.Printf(`%s v%s - Schema Migration Tool for pipetrace

USAGE:
    %s [OPTIONS] COMMAND

COMMANDS:
    up      Apply all pending migrations
    down    Roll back the last migration
    status  Show migration status
    version Show current migration version
    drop    Drop all tables (requires confirmation)

OPTIONS:
    --help     Show this help message
    --version  Show version information

ENVIRONMENT VARIABLES:
    PIPETRACE_STORE_CONFIG    Path to a YAML store configuration file
    PIPETRACE_STORE_TYPE      Store dialect: sqlite, mysql or postgres
                              (default: sqlite)
    PIPETRACE_STORE_URI       SQLite database file
                              (default: pipetrace.db)
    PIPETRACE_STORE_HOST      Server host for mysql/postgres
    PIPETRACE_STORE_PORT      Server port for mysql/postgres
    PIPETRACE_STORE_DATABASE  Database name for mysql/postgres
    PIPETRACE_STORE_USERNAME  Database user for mysql/postgres
    PIPETRACE_STORE_PASSWORD  Database password for mysql/postgres

EXAMPLES:
    %s up                    # Apply all pending migrations
    %s status                # Show current migration status
    %s down                  # Roll back last migration

Migrations ship embedded in the binary; no migration files are read from disk.
`, name, version, name, name, name, name)
}
