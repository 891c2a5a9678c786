package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		" warn ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(Options{Level: "info", Env: "production", Out: &buf})
	defer closer.Close()

	logger.Info().Str("patient_id", "p1").Msg("payment recorded")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON, got %q", buf.String())
	}
	if line["message"] != "payment recorded" || line["service"] != "clinicdesk" {
		t.Errorf("unexpected fields: %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("expected timestamp")
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Options{Level: "warn", Out: &buf})

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered, got %q", buf.String())
	}
	logger.Warn().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected warn line")
	}
}

func TestNew_ConsoleInDevelopment(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Options{Env: "development", Out: &buf})

	logger.Info().Msg("hello")
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("expected console output, got JSON %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Error("expected message in console output")
	}
}

func TestNew_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clinicdesk.log")
	var buf bytes.Buffer
	logger, closer := New(Options{File: path, Out: &buf})

	logger.Info().Msg("to file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("expected line in file, got %q", data)
	}
	if !strings.Contains(buf.String(), "to file") {
		t.Error("expected line on stdout too")
	}
}
