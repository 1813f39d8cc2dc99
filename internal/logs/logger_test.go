package logs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/funvibe/lunar/internal/config"
	"github.com/google/uuid"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHandlerAddsScriptID(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(config.LogOptions{Level: "debug", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	id := uuid.New()
	logger.InfoContext(WithScriptID(context.Background(), id), "chunk loaded", "chunk", "main")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if record[ScriptIDKey] != id.String() {
		t.Errorf("script.id = %v, want %s", record[ScriptIDKey], id)
	}
	if record["chunk"] != "main" {
		t.Errorf("chunk = %v", record["chunk"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(config.LogOptions{Level: "warn", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()

	logger.Debug("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lunar.log")
	var buf bytes.Buffer
	logger, closer, err := New(config.LogOptions{Level: "info", Format: "text", File: path}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("to both")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to both"`) {
		t.Errorf("log file = %q", data)
	}
	if !strings.Contains(buf.String(), "to both") {
		t.Errorf("terminal output = %q", buf.String())
	}
}

func TestLoggersKeepTheirOwnLevel(t *testing.T) {
	var quiet, loud bytes.Buffer
	first, c1, err := New(config.LogOptions{Level: "error", Format: "text"}, &quiet)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c1.Close()
	second, c2, err := New(config.LogOptions{Level: "debug", Format: "text"}, &loud)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c2.Close()

	first.Info("first info")
	second.Debug("second debug")
	if quiet.Len() != 0 {
		t.Errorf("building a debug logger changed the first logger's level: %q", quiet.String())
	}
	if !strings.Contains(loud.String(), "second debug") {
		t.Errorf("debug logger output = %q", loud.String())
	}
}

func TestDiscard(t *testing.T) {
	if Discard().Enabled(context.Background(), slog.LevelError) {
		t.Error("Discard logger should be disabled")
	}
}
