package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/go-sql-driver/mysql" // mysql driver registration
	_ "github.com/lib/pq"              // postgres driver registration
	_ "modernc.org/sqlite"             // sqlite driver registration

	"github.com/pipetrace-io/pipetrace/internal/config"
	"github.com/pipetrace-io/pipetrace/migrations"
)

const (
	connectTimeout     = 10 * time.Second
	healthCheckTimeout = 5 * time.Second
)

var (
	// ErrNoDatabaseConnection is returned when an operation requires a
	// connection that was never established or already closed.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrNilConfig is returned when Connect is called without a configuration.
	ErrNilConfig = errors.New("store config cannot be nil")
)

// Connection wraps a *sql.DB together with the dialect it speaks, so callers
// can build portable queries with ? placeholders and let Rebind adjust them.
type Connection struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

// Connect validates the configuration, opens the database and verifies it is
// reachable before returning.
func Connect(ctx context.Context, cfg *Config) (*Connection, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName(cfg.Type), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Type, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to reach %s store: %w", cfg.Type, err)
	}

	conn := &Connection{
		db:      db,
		dialect: cfg.Type,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	conn.logger.Info("Connected to metadata store",
		slog.String("type", cfg.Type),
		slog.String("dsn", cfg.MaskDSN()),
	)

	return conn, nil
}

// DB exposes the underlying connection pool.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Dialect returns the SQL dialect of the connected store.
func (c *Connection) Dialect() string {
	return c.dialect
}

// Close closes the underlying connection pool.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	return c.db.Close()
}

// HealthCheck verifies the store is reachable within a bounded timeout.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c.db == nil {
		return ErrNoDatabaseConnection
	}

	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	return c.db.PingContext(pingCtx)
}

// Rebind rewrites ? placeholders to the dialect's positional form. Queries are
// written with ? throughout; only postgres needs $N rewriting.
func (c *Connection) Rebind(query string) string {
	if c.dialect != migrations.DialectPostgres {
		return query
	}

	var builder strings.Builder

	n := 0

	for _, r := range query {
		if r == '?' {
			n++

			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))

			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

// Migrator builds a migrate instance over the embedded migration files for
// the connected dialect. The caller owns the returned instance.
func (c *Connection) Migrator() (*migrate.Migrate, error) {
	if c.db == nil {
		return nil, ErrNoDatabaseConnection
	}

	if err := migrations.Validate(c.dialect); err != nil {
		return nil, err
	}

	fsys, err := migrations.Source(c.dialect)
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}

	driver, err := c.migrationDriver()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithInstance("iofs", source, c.dialect, driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// Migrate applies all pending schema migrations for the connected dialect
// using the embedded migration files.
func (c *Connection) Migrate() error {
	m, err := c.Migrator()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	c.logger.Info("Schema migrations applied", slog.String("dialect", c.dialect))

	return nil
}

func (c *Connection) migrationDriver() (database.Driver, error) {
	switch c.dialect {
	case migrations.DialectSQLite:
		return migratesqlite.WithInstance(c.db, &migratesqlite.Config{})
	case migrations.DialectMySQL:
		return migratemysql.WithInstance(c.db, &migratemysql.Config{})
	case migrations.DialectPostgres:
		return migratepg.WithInstance(c.db, &migratepg.Config{})
	default:
		return nil, fmt.Errorf("%w: %q", ErrStoreTypeUnknown, c.dialect)
	}
}

func driverName(storeType string) string {
	switch storeType {
	case migrations.DialectMySQL:
		return "mysql"
	case migrations.DialectPostgres:
		return "postgres"
	default:
		return "sqlite"
	}
}
