// Package migrations embeds the schema migration files for every supported
// SQL dialect and validates them before they are handed to golang-migrate.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed sqlite mysql postgres
var files embed.FS

// Supported dialects, matching the directory names under migrations/.
const (
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// migrationInfo contains parsed information about a migration file.
type migrationInfo struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// Dialects returns the dialects with embedded migrations.
func Dialects() []string {
	return []string{DialectSQLite, DialectMySQL, DialectPostgres}
}

// Source returns the embedded migration file system for a dialect, rooted at
// the dialect directory so it can be passed directly to an iofs source driver.
func Source(dialect string) (fs.FS, error) {
	switch dialect {
	case DialectSQLite, DialectMySQL, DialectPostgres:
		return fs.Sub(files, dialect)
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %q", dialect)
	}
}

// List returns the migration filenames embedded for a dialect, sorted
// lexicographically. Only files matching the strict naming standard are
// included.
func List(dialect string) ([]string, error) {
	source, err := Source(dialect)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations for %s: %w", dialect, err)
	}

	var names []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if migrationFilenameRegex.MatchString(entry.Name()) {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}

// Validate checks the embedded migrations of a dialect: every file follows the
// naming standard, every up migration has a down counterpart, and sequence
// numbers start at 001 with no gaps.
func Validate(dialect string) error {
	names, err := List(dialect)
	if err != nil {
		return err
	}

	if len(names) == 0 {
		return fmt.Errorf("no migration files embedded for dialect %s", dialect)
	}

	parsed := make([]*migrationInfo, 0, len(names))

	for _, name := range names {
		info, err := parseMigrationFilename(name)
		if err != nil {
			return fmt.Errorf("%s: %w", dialect, err)
		}

		parsed = append(parsed, info)
	}

	if err := validatePairing(parsed); err != nil {
		return fmt.Errorf("%s: %w", dialect, err)
	}

	if err := validateSequence(parsed); err != nil {
		return fmt.Errorf("%s: %w", dialect, err)
	}

	return nil
}

// ValidateAll validates the embedded migrations of every dialect.
func ValidateAll() error {
	for _, dialect := range Dialects() {
		if err := Validate(dialect); err != nil {
			return err
		}
	}

	return nil
}

func parseMigrationFilename(filename string) (*migrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)", filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &migrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures that every up migration has a corresponding down migration.
func validatePairing(parsed []*migrationInfo) error {
	directions := make(map[string]map[string]bool)

	for _, info := range parsed {
		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][info.Direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !seen["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures migration sequences start at 001 with no gaps.
func validateSequence(parsed []*migrationInfo) error {
	sequences := make(map[int]bool)
	for _, info := range parsed {
		sequences[info.Sequence] = true
	}

	numbers := make([]int, 0, len(sequences))
	for seq := range sequences {
		numbers = append(numbers, seq)
	}

	sort.Ints(numbers)

	if len(numbers) == 0 {
		return nil
	}

	if numbers[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", numbers[0])
	}

	for i := 1; i < len(numbers); i++ {
		if expected := numbers[i-1] + 1; numbers[i] != expected {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", expected, numbers[i])
		}
	}

	return nil
}
