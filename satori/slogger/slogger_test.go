package slogger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" INFO ", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("❌ parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitWithJSON(t *testing.T) {
	t.Log("\n🔍 Testing JSON log output...")

	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	InitWith(&buf, "warn", "json")
	slog.Info("hidden")
	slog.Warn("shown", "key", "value")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("❌ Expected one log line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("❌ Log line is not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["key"] != "value" || rec["service"] != "satori-audit" {
		t.Errorf("❌ Unexpected record: %v", rec)
	}

	SetLevel(slog.LevelDebug)
	if !IsDebug() {
		t.Error("❌ SetLevel should switch to debug")
	}

	t.Log("✅ JSON logging configured")
}
