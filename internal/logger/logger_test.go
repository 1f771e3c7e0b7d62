package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New("info").Output(&buf)

	log.Info().Msg("queue materialized")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v, output: %s", err, buf.String())
	}
	if entry["message"] != "queue materialized" {
		t.Errorf("message = %v, want %q", entry["message"], "queue materialized")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON output")
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logAt     string
		shouldLog bool
	}{
		{"info logger logs info", "info", "info", true},
		{"info logger skips debug", "info", "debug", false},
		{"debug logger logs debug", "debug", "debug", true},
		{"warn logger skips info", "warn", "info", false},
		{"invalid level falls back to info", "loud", "info", true},
		{"empty level falls back to info", "", "debug", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(tt.level).Output(&buf)

			switch tt.logAt {
			case "debug":
				log.Debug().Msg("test")
			case "info":
				log.Info().Msg("test")
			}

			if got := buf.Len() > 0; got != tt.shouldLog {
				t.Errorf("level=%s logAt=%s: logged=%v, want %v", tt.level, tt.logAt, got, tt.shouldLog)
			}
		})
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New("info").Output(&buf), "queue")
	log.Info().Msg("started")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["component"] != "queue" {
		t.Errorf("component = %v, want queue", entry["component"])
	}
}

func TestNewFromConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "flowgate.log")
	log := NewFromConfig(Config{Level: "debug", Output: "file", FilePath: path, MaxSizeMB: 1, MaxFiles: 1})
	log.Debug().Msg("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("log file = %q, want it to contain the message", data)
	}
}

func TestFromContext_WithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), New("info").Output(&buf))
	ctx = WithCorrelationID(ctx, "req-abc-123")

	if got := CorrelationIDFromContext(ctx); got != "req-abc-123" {
		t.Fatalf("CorrelationIDFromContext() = %q, want req-abc-123", got)
	}

	log := FromContext(ctx)
	log.Info().Msg("request handled")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["correlation_id"] != "req-abc-123" {
		t.Errorf("correlation_id = %v, want req-abc-123", entry["correlation_id"])
	}
}

func TestFromContext_WithoutLogger(t *testing.T) {
	var buf bytes.Buffer
	log := FromContext(context.Background()).Output(&buf)
	log.Info().Msg("fallback")

	if buf.Len() == 0 {
		t.Error("expected fallback logger to produce output")
	}
}

func TestNewCorrelationID(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()

	if id1 == "" || id1 == id2 {
		t.Fatalf("expected unique non-empty IDs, got %q and %q", id1, id2)
	}
	if len(strings.Split(id1, "-")) != 5 {
		t.Errorf("expected UUID format (5 groups), got %s", id1)
	}
}

func TestNewFileWriter_WritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "subdir", "app.log")
	w := NewFileWriter(FileConfig{Path: logPath, MaxSizeMB: 10, MaxFiles: 3})

	msg := []byte(`{"level":"info","message":"hello"}` + "\n")
	n, err := w.Write(msg)
	if err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}
	if n != len(msg) {
		t.Errorf("wrote %d bytes, want %d", n, len(msg))
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if string(data) != string(msg) {
		t.Errorf("file content = %q, want %q", data, msg)
	}
}
