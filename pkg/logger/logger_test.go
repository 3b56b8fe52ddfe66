package logger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newBufferLogger(t *testing.T, level Level, format Format) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, err := NewLogger(&Config{
		Level:            level,
		Format:           format,
		Output:           StderrOutput,
		DisableTimestamp: true,
		Writer:           &buf,
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log, &buf
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{"default", DefaultConfig(), false},
		{"debug", DebugConfig(), false},
		{"bad level", &Config{Level: "trace", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"bad output", &Config{Level: InfoLevel, Format: TextFormat, Output: "syslog"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoggerFieldsAreKept(t *testing.T) {
	log, buf := newBufferLogger(t, DebugLevel, JSONFormat)

	log.WithComponent("matcher").WithField("receipt", "r1").WithError(fmt.Errorf("boom")).Info("scored")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}

	expected := map[string]string{
		"component": "matcher",
		"receipt":   "r1",
		"error":     "boom",
		"msg":       "scored",
		"level":     "info",
	}
	for key, want := range expected {
		if entry[key] != want {
			t.Errorf("expected %s=%q, got %v", key, want, entry[key])
		}
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel, TextFormat)

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn line should be written")
	}
}

func TestConfigure(t *testing.T) {
	previous := GetGlobalLogger()
	defer SetGlobalLogger(previous)

	if err := Configure("DEBUG", "json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Configure("loud", "text"); err == nil {
		t.Error("expected error for an unknown level")
	}
	if err := Configure("info", "yaml"); err == nil {
		t.Error("expected error for an unknown format")
	}
}

func TestTimedOperation(t *testing.T) {
	log, buf := newBufferLogger(t, DebugLevel, TextFormat)

	if err := TimedOperation("load receipts", log, func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "Operation completed") || !strings.Contains(buf.String(), "status=success") {
		t.Errorf("expected a success line, got:\n%s", buf.String())
	}

	buf.Reset()
	failure := fmt.Errorf("folder missing")
	if err := TimedOperation("load receipts", log, func() error { return failure }); err != failure {
		t.Errorf("expected the operation error to be returned, got %v", err)
	}
	if !strings.Contains(buf.String(), "Operation failed") || !strings.Contains(buf.String(), "folder missing") {
		t.Errorf("expected a failure line, got:\n%s", buf.String())
	}
}

func TestProgressTracker(t *testing.T) {
	log, buf := newBufferLogger(t, DebugLevel, TextFormat)

	tracker := NewProgressTracker(ProgressConfig{
		Operation:   "matching",
		Total:       4,
		LogInterval: time.Hour,
		Logger:      log,
	})
	tracker.Add(1)
	tracker.Update(3)

	stats := tracker.GetStats()
	if stats.Current != 3 || stats.Total != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.Percentage != 75 {
		t.Errorf("expected 75%%, got %.1f", stats.Percentage)
	}
	if got := stats.String(); got != "matching: 3/4 (75.0%)" {
		t.Errorf("unexpected summary %q", got)
	}
	if strings.Contains(buf.String(), "Progress update") {
		t.Error("progress should not be logged before the interval elapses")
	}

	tracker.Complete()
	if !strings.Contains(buf.String(), "Operation completed") {
		t.Errorf("expected a completion line, got:\n%s", buf.String())
	}

	if got := (ProgressStats{Operation: "scan", Current: 7}).String(); got != "scan: 7 processed" {
		t.Errorf("unexpected summary without total %q", got)
	}
}
