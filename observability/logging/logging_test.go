package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := map[string]any{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	return line
}

func TestNewEmitsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Service: "omend", Env: "staging", Writer: &buf})
	logger.Info("market resolved", slog.Uint64("market", 7))

	line := decodeLine(t, &buf)
	if line["service"] != "omend" || line["env"] != "staging" {
		t.Fatalf("missing service identification: %v", line)
	}
	if line["msg"] != "market resolved" {
		t.Fatalf("expected msg key, got %v", line)
	}
	if line["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", line["level"])
	}
	if _, ok := line["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", line)
	}
	if line["market"] != float64(7) {
		t.Fatalf("expected market attr, got %v", line)
	}
}

func TestWithComponentTagsLines(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Service: "omend", Writer: &buf})
	WithComponent(logger, "resolver").Warn("resolution deferred")

	line := decodeLine(t, &buf)
	if line["component"] != "resolver" {
		t.Fatalf("expected component tag, got %v", line)
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Service: "omend", Level: slog.LevelWarn, Writer: &buf})
	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("info line must be filtered at warn level: %q", buf.String())
	}
	logger.Error("kept")
	if buf.Len() == 0 {
		t.Fatalf("error line must pass the warn level")
	}
}

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for value, want := range cases {
		t.Setenv(envLogLevel, value)
		if got := LevelFromEnv(); got != want {
			t.Fatalf("level for %q: expected %v got %v", value, want, got)
		}
	}
}
