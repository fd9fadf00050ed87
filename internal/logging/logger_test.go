package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONWithProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatsyncd.log")
	logger, err := New(path, "work")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("hello", zap.String("k", "v"))
	logger.Debug("hidden")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (debug filtered): %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["profile"] != "work" || entry["msg"] != "hello" || entry["k"] != "v" {
		t.Errorf("entry = %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts field")
	}
	if _, ok := entry["pid"]; !ok {
		t.Error("missing pid field")
	}
}

func TestNewWithLevelDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.log")
	logger, err := NewWithLevel(path, "p", zapcore.DebugLevel)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("visible")
	_ = logger.Sync()
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "visible") {
		t.Errorf("debug entry missing: %s", data)
	}
}
