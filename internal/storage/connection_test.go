package storage

import (
	"testing"

	"github.com/pipetrace-io/pipetrace/migrations"
)

func TestRebindPostgres(t *testing.T) {
	conn := &Connection{dialect: migrations.DialectPostgres}

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "no placeholders",
			query: "SELECT id FROM contexts",
			want:  "SELECT id FROM contexts",
		},
		{
			name:  "single placeholder",
			query: "SELECT id FROM contexts WHERE name = ?",
			want:  "SELECT id FROM contexts WHERE name = $1",
		},
		{
			name:  "multiple placeholders",
			query: "INSERT INTO events (execution_id, artifact_id, type) VALUES (?, ?, ?)",
			want:  "INSERT INTO events (execution_id, artifact_id, type) VALUES ($1, $2, $3)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := conn.Rebind(tt.query); got != tt.want {
				t.Errorf("Rebind(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestRebindPassthrough(t *testing.T) {
	query := "SELECT id FROM contexts WHERE name = ?"

	for _, dialect := range []string{migrations.DialectSQLite, migrations.DialectMySQL} {
		conn := &Connection{dialect: dialect}
		if got := conn.Rebind(query); got != query {
			t.Errorf("Rebind for %s rewrote query: %q", dialect, got)
		}
	}
}

func TestDriverName(t *testing.T) {
	tests := []struct {
		storeType string
		want      string
	}{
		{migrations.DialectSQLite, "sqlite"},
		{migrations.DialectMySQL, "mysql"},
		{migrations.DialectPostgres, "postgres"},
	}

	for _, tt := range tests {
		if got := driverName(tt.storeType); got != tt.want {
			t.Errorf("driverName(%q) = %q, want %q", tt.storeType, got, tt.want)
		}
	}
}

func TestInPlaceholders(t *testing.T) {
	if got := inPlaceholders(1); got != "?" {
		t.Errorf("inPlaceholders(1) = %q", got)
	}

	if got := inPlaceholders(3); got != "?,?,?" {
		t.Errorf("inPlaceholders(3) = %q", got)
	}
}
