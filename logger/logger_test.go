package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"smartpark/config"
)

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "smartpark.log")
	log, err := New(config.LogConfig{
		Level:      "info",
		Format:     "json",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
		MaxAgeDays: 1,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Debug("hidden")
	log.Info("model loaded")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (debug filtered): %s", len(lines), data)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("file entry is not JSON: %v", err)
	}
	if entry["msg"] != "model loaded" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{"bad level", config.LogConfig{Level: "loud", Format: "json"}},
		{"bad format", config.LogConfig{Level: "info", Format: "xml"}},
		{"bad output", config.LogConfig{Level: "info", Format: "json", Output: "syslog"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewConsole(t *testing.T) {
	log, err := New(config.LogConfig{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level not enabled")
	}
}

// redirect swaps *target for a temp file until the test ends.
func redirect(t *testing.T, target **os.File) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	old := *target
	*target = f
	t.Cleanup(func() {
		*target = old
		f.Close()
	})
	return f
}

func TestNewStderrOutput(t *testing.T) {
	stdout := redirect(t, &os.Stdout)
	stderr := redirect(t, &os.Stderr)

	log, err := New(config.LogConfig{Level: "info", Format: "json", Output: config.LogOutputStderr})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Info("grid search started")
	_ = log.Sync()

	errData, _ := os.ReadFile(stderr.Name())
	if !strings.Contains(string(errData), "grid search started") {
		t.Errorf("stderr missing entry: %q", errData)
	}
	outData, _ := os.ReadFile(stdout.Name())
	if len(outData) != 0 {
		t.Errorf("stdout must stay clean, got %q", outData)
	}
}
