package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := SetupLogger("warn", "json", &buf)
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	logger.Info().Msg("hidden")
	logger.Warn().Str("task", "t1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["message"] != "shown" || entry["task"] != "t1" || entry["service"] != ServiceName {
		t.Errorf("entry = %v", entry)
	}
}

func TestSetupLogger_ContextFallback(t *testing.T) {
	var buf bytes.Buffer
	if _, err := SetupLogger("info", "json", &buf); err != nil {
		t.Fatal(err)
	}
	log.Ctx(context.Background()).Info().Msg("from ctx")
	if !strings.Contains(buf.String(), "from ctx") {
		t.Error("log.Ctx without a logger should fall back to the global logger")
	}
}

func TestSetupLogger_Errors(t *testing.T) {
	if _, err := SetupLogger("loud", "json", &bytes.Buffer{}); err == nil {
		t.Error("expected error for bad level")
	}
	if _, err := SetupLogger("info", "xml", &bytes.Buffer{}); err == nil {
		t.Error("expected error for bad format")
	}
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		endpoint string
		n        int
		wantErr  bool
	}{
		{"localhost:4318", 2, false},
		{"http://collector:4318", 2, false},
		{"https://collector.example/v1/traces", 2, false},
		{"http://", 0, true},
	}
	for _, tt := range tests {
		opts, err := exporterOptions(tt.endpoint)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.endpoint, err, tt.wantErr)
			continue
		}
		if len(opts) != tt.n {
			t.Errorf("%s: %d options, want %d", tt.endpoint, len(opts), tt.n)
		}
	}
}
