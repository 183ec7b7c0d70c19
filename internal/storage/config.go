// Package storage provides the SQL-backed metadata store and its supporting
// connection plumbing for the pipetrace services.
package storage

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pipetrace-io/pipetrace/internal/config"
	"github.com/pipetrace-io/pipetrace/migrations"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultMySQLPort       = 3306
	defaultPostgresPort    = 5432
)

var (
	// ErrStoreTypeEmpty is returned when the store type is missing.
	ErrStoreTypeEmpty = errors.New("store type cannot be empty")

	// ErrStoreTypeUnknown is returned for a store type other than sqlite, mysql or postgres.
	ErrStoreTypeUnknown = errors.New("unknown store type")

	// ErrSQLiteURIEmpty is returned when a sqlite store has no database file path.
	ErrSQLiteURIEmpty = errors.New("sqlite store requires a uri")

	// ErrServerArgsIncomplete is returned when a server-backed store is missing
	// host or database name.
	ErrServerArgsIncomplete = errors.New("store requires host and database")
)

type (
	// Args holds the dialect-specific connection arguments of a store.
	// SQLite uses only URI; the server dialects use the remaining fields.
	Args struct {
		URI      string `yaml:"uri"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Database string `yaml:"database"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
	}

	// Config selects a store backend and carries its connection pool settings.
	Config struct {
		Type string `yaml:"type"`
		Args Args   `yaml:"args"`

		MaxOpenConns    int           `yaml:"-"`
		MaxIdleConns    int           `yaml:"-"`
		ConnMaxLifetime time.Duration `yaml:"-"`
		ConnMaxIdleTime time.Duration `yaml:"-"`
	}
)

// LoadConfig reads a store configuration file and applies environment
// overrides. The file holds the store type and its args; pool tuning comes
// from the environment only.
//
// Example file:
//
//	type: mysql
//	args:
//	  host: metadata.internal
//	  database: pipetrace
//	  username: pipetrace
//	  password: secret
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read store config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse store config %s: %w", path, err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

// LoadConfigFromEnv builds a store configuration from environment variables
// alone, used when no config file is given. Defaults to an on-disk sqlite
// store.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Type: config.GetEnvStr("PIPETRACE_STORE_TYPE", migrations.DialectSQLite),
		Args: Args{
			URI:      config.GetEnvStr("PIPETRACE_STORE_URI", "pipetrace.db"),
			Host:     config.GetEnvStr("PIPETRACE_STORE_HOST", ""),
			Port:     config.GetEnvInt("PIPETRACE_STORE_PORT", 0),
			Database: config.GetEnvStr("PIPETRACE_STORE_DATABASE", ""),
			Username: config.GetEnvStr("PIPETRACE_STORE_USERNAME", ""),
			Password: config.GetEnvStr("PIPETRACE_STORE_PASSWORD", ""),
			SSLMode:  config.GetEnvStr("PIPETRACE_STORE_SSLMODE", "disable"),
		},
	}

	cfg.applyDefaults()

	return cfg
}

func (c *Config) applyDefaults() {
	c.MaxOpenConns = config.GetEnvInt("PIPETRACE_STORE_MAX_OPEN_CONNS", defaultMaxOpenConns)
	c.MaxIdleConns = config.GetEnvInt("PIPETRACE_STORE_MAX_IDLE_CONNS", defaultMaxIdleConns)
	c.ConnMaxLifetime = config.GetEnvDuration("PIPETRACE_STORE_CONN_MAX_LIFETIME", defaultConnMaxLifetime)
	c.ConnMaxIdleTime = config.GetEnvDuration("PIPETRACE_STORE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime)

	if c.Args.SSLMode == "" {
		c.Args.SSLMode = "disable"
	}

	if c.Args.Port == 0 {
		switch c.Type {
		case migrations.DialectMySQL:
			c.Args.Port = defaultMySQLPort
		case migrations.DialectPostgres:
			c.Args.Port = defaultPostgresPort
		}
	}
}

// Validate checks that the configuration selects a known store type and
// carries the arguments that type requires.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.Type) {
	case "":
		return ErrStoreTypeEmpty
	case migrations.DialectSQLite:
		if strings.TrimSpace(c.Args.URI) == "" {
			return ErrSQLiteURIEmpty
		}
	case migrations.DialectMySQL, migrations.DialectPostgres:
		if strings.TrimSpace(c.Args.Host) == "" || strings.TrimSpace(c.Args.Database) == "" {
			return fmt.Errorf("%w: type %s", ErrServerArgsIncomplete, c.Type)
		}
	default:
		return fmt.Errorf("%w: %q", ErrStoreTypeUnknown, c.Type)
	}

	return nil
}

// DSN builds the driver connection string for the configured store type.
// Validate must pass before calling DSN.
func (c *Config) DSN() string {
	switch c.Type {
	case migrations.DialectSQLite:
		return c.Args.URI
	case migrations.DialectMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.Args.Username, c.Args.Password, c.Args.Host, c.Args.Port, c.Args.Database)
	case migrations.DialectPostgres:
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.Args.Username, c.Args.Password, c.Args.Host, c.Args.Port, c.Args.Database, c.Args.SSLMode)
	default:
		return ""
	}
}

// MaskDSN returns the DSN with the password replaced, safe for logging.
func (c *Config) MaskDSN() string {
	dsn := c.DSN()
	if dsn == "" || c.Args.Password == "" {
		return dsn
	}

	return strings.ReplaceAll(dsn, c.Args.Password, "***")
}
