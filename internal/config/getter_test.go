package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestGetEnvStr(t *testing.T) {
	t.Setenv("PIPETRACE_TEST_STR", "value")

	if got := GetEnvStr("PIPETRACE_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnvStr = %q, want %q", got, "value")
	}

	if got := GetEnvStr("PIPETRACE_TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnvStr = %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("PIPETRACE_TEST_INT", "42")

	if got := GetEnvInt("PIPETRACE_TEST_INT", 7); got != 42 {
		t.Errorf("GetEnvInt = %d, want 42", got)
	}

	t.Setenv("PIPETRACE_TEST_INT", "not-a-number")

	if got := GetEnvInt("PIPETRACE_TEST_INT", 7); got != 7 {
		t.Errorf("GetEnvInt with invalid value = %d, want default 7", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"false", false},
		{"0", false},
		{"no", false},
		{"garbage", true}, // falls back to default
	}

	for _, tt := range tests {
		t.Setenv("PIPETRACE_TEST_BOOL", tt.value)

		if got := GetEnvBool("PIPETRACE_TEST_BOOL", true); got != tt.want {
			t.Errorf("GetEnvBool(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("PIPETRACE_TEST_DURATION", "5m")

	if got := GetEnvDuration("PIPETRACE_TEST_DURATION", time.Second); got != 5*time.Minute {
		t.Errorf("GetEnvDuration = %v, want 5m", got)
	}
}

func TestGetEnvLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo}, // unknown falls back to default
	}

	for _, tt := range tests {
		t.Setenv("PIPETRACE_TEST_LOG_LEVEL", tt.value)

		if got := GetEnvLogLevel("PIPETRACE_TEST_LOG_LEVEL", slog.LevelInfo); got != tt.want {
			t.Errorf("GetEnvLogLevel(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseCommaSeparatedList(t *testing.T) {
	got := ParseCommaSeparatedList(" a, b ,,c ")
	want := []string{"a", "b", "c"}

	if len(got) != len(want) {
		t.Fatalf("ParseCommaSeparatedList = %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %q, want %q", i, got[i], want[i])
		}
	}

	if got := ParseCommaSeparatedList(""); len(got) != 0 {
		t.Errorf("ParseCommaSeparatedList(\"\") = %v, want empty", got)
	}
}
