package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"info", "info", slog.LevelInfo},
		{"debug", "debug", slog.LevelDebug},
		{"trace", "trace", LevelTrace},
		{"uppercase INFO", "INFO", slog.LevelInfo},
		{"uppercase DEBUG", "DEBUG", slog.LevelDebug},
		{"uppercase TRACE", "TRACE", LevelTrace},
		{"mixed case Debug", "Debug", slog.LevelDebug},
		{"unknown defaults to info", "unknown", slog.LevelInfo},
		{"empty defaults to info", "", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name  string
		level string
		tty   bool
	}{
		{"info level", "info", false},
		{"debug level", "debug", false},
		{"trace level", "trace", false},
		{"tty colorized", "info", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf, tt.tty)
			if logger == nil {
				t.Fatal("NewLogger returned nil")
			}
			logger.Info("hello")
			if !strings.Contains(buf.String(), "hello") {
				t.Errorf("logged message missing from output: %q", buf.String())
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		name       string
		level      string
		logAtDebug bool
		logAtInfo  bool
	}{
		{"info filters debug", "info", false, true},
		{"debug passes debug", "debug", true, true},
		{"trace passes debug", "trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf, false)

			logger.Debug("debug message")
			hasDebug := strings.Contains(buf.String(), "debug message")
			if hasDebug != tt.logAtDebug {
				t.Errorf("debug message visible = %v, want %v (buf: %q)", hasDebug, tt.logAtDebug, buf.String())
			}

			buf.Reset()
			logger.Info("info message")
			hasInfo := strings.Contains(buf.String(), "info message")
			if hasInfo != tt.logAtInfo {
				t.Errorf("info message visible = %v, want %v (buf: %q)", hasInfo, tt.logAtInfo, buf.String())
			}
		})
	}
}

func TestLevelTrace(t *testing.T) {
	// Trace should be below debug (more verbose)
	if LevelTrace >= slog.LevelDebug {
		t.Errorf("LevelTrace (%d) should be less than LevelDebug (%d)", LevelTrace, slog.LevelDebug)
	}
}

func TestNewRunLogger_InfoLevel(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLogger(dir, "info")

	// At info level, run logger should be nil
	if rl != nil {
		t.Error("expected nil RunLogger at info level")
	}

	// Nil logger should still be safe to use
	rl.Log(map[string]any{"event": "test"})

	path := filepath.Join(dir, "runs.jsonl")
	if _, err := os.Stat(path); err == nil {
		t.Error("runs.jsonl should not exist at info level")
	}
}

func TestNewRunLogger_DebugLevel(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLogger(dir, "debug")
	defer rl.Close()

	rl.Log(map[string]any{"event": "regression_opened", "delta_percent": 25.0})

	path := filepath.Join(dir, "runs.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read runs.jsonl: %v", err)
	}

	// Parse the JSONL line
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("failed to parse JSONL entry: %v", err)
	}

	if entry["event"] != "regression_opened" {
		t.Errorf("event = %v, want regression_opened", entry["event"])
	}
	if entry["delta_percent"] != 25.0 {
		t.Errorf("delta_percent = %v, want 25", entry["delta_percent"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in run log entry")
	}
}

func TestNewRunLogger_TraceLevel(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLogger(dir, "trace")
	defer rl.Close()

	rl.Log(map[string]any{"event": "sample"})

	path := filepath.Join(dir, "runs.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read runs.jsonl: %v", err)
	}

	if !strings.Contains(string(data), "sample") {
		t.Error("expected sample event in runs.jsonl")
	}
}

func TestNewRunLogger_MultipleWrites(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLogger(dir, "debug")
	defer rl.Close()

	rl.Log(map[string]any{"event": "first"})
	rl.Log(map[string]any{"event": "second"})

	path := filepath.Join(dir, "runs.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read runs.jsonl: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), string(data))
	}

	var first, second map[string]any
	json.Unmarshal([]byte(lines[0]), &first)
	json.Unmarshal([]byte(lines[1]), &second)

	if first["event"] != "first" {
		t.Errorf("first event = %v, want 'first'", first["event"])
	}
	if second["event"] != "second" {
		t.Errorf("second event = %v, want 'second'", second["event"])
	}
}

func TestRunLogger_NilSafety(t *testing.T) {
	// nil RunLogger should not panic
	var rl *RunLogger
	rl.Log(map[string]any{"event": "should_not_panic"})
	rl.Close()
}

func TestRunLogger_DoesNotMutateCallerMap(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLogger(dir, "debug")
	defer rl.Close()

	event := map[string]any{"event": "test"}
	rl.Log(event)

	if _, hasTime := event["time"]; hasTime {
		t.Error("Log() should not mutate caller's map, but 'time' was injected")
	}
}

func TestRunLogger_LogAfterClose(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLogger(dir, "debug")

	rl.Log(map[string]any{"event": "before_close"})
	rl.Close()

	// Should be a no-op, not panic or error
	rl.Log(map[string]any{"event": "after_close"})
}

func TestNewRunLogger_CreatesDir(t *testing.T) {
	base := t.TempDir()
	nestedDir := filepath.Join(base, "sub", "dir")

	rl := NewRunLogger(nestedDir, "debug")
	if rl == nil {
		t.Fatal("expected non-nil RunLogger when dir needs creation")
	}
	defer rl.Close()

	rl.Log(map[string]any{"event": "dir_create_test"})

	path := filepath.Join(nestedDir, "runs.jsonl")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("runs.jsonl should exist after dir creation: %v", err)
	}
}

func TestRunLogger_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLogger(dir, "debug")
	defer rl.Close()

	rl.Log(map[string]any{"event": "perm_test"})

	path := filepath.Join(dir, "runs.jsonl")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat runs.jsonl: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}
