package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	tests := []struct {
		name      string
		level     Level
		shouldLog bool
	}{
		{"Debug not logged at Info level", LevelDebug, false},
		{"Info logged at Info level", LevelInfo, true},
		{"Warn logged at Info level", LevelWarn, true},
		{"Error logged at Info level", LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			logger.log(tt.level, "message")
			hasOutput := buf.Len() > 0
			if hasOutput != tt.shouldLog {
				t.Errorf("Expected hasOutput=%v, got %v", tt.shouldLog, hasOutput)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	if logger.level != LevelInfo {
		t.Errorf("Expected initial level Info, got %v", logger.level)
	}

	logger.SetLevel(LevelDebug)
	logger.Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Error("Expected debug message after SetLevel(LevelDebug)")
	}
}

func TestSetWriter(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	logger := New(&buf1)

	logger.Info("test message 1")
	if !strings.Contains(buf1.String(), "test message 1") {
		t.Error("Expected message in buf1")
	}

	logger.SetWriter(&buf2)
	logger.Info("test message 2")
	if !strings.Contains(buf2.String(), "test message 2") {
		t.Error("Expected message in buf2")
	}
	if strings.Contains(buf1.String(), "test message 2") {
		t.Error("Did not expect second message in buf1")
	}
}

func TestLogFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	logger.Info("test message", "key", "value")
	output := buf.String()

	if !strings.Contains(output, "level=INFO") {
		t.Errorf("Expected level=INFO in output, got %q", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected key=value in output, got %q", output)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)
	logger.SetFormat("json")

	logger.Warn("login failed", "email", "a@x.com")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "login failed" {
		t.Errorf("msg = %v, want login failed", rec["msg"])
	}
	if rec["email"] != "a@x.com" {
		t.Errorf("email = %v, want a@x.com", rec["email"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	defer SetWriter(nil)

	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)

	Debug("debug test")
	Info("info test")
	Warn("warn test")
	Error("error test")

	for _, want := range []string{"debug test", "info test", "warn test", "error test"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in global output", want)
		}
	}
}
