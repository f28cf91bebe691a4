package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

const loggingTestPrefix = "logging:logging_test"

func restoreDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("%s - ParseLevel(%q) = %v, want %v", loggingTestPrefix, in, got, want)
		}
	}
}

func TestInit_JSONWithComponent(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	Init(slog.LevelInfo, "json", &buf)

	New("relay").Info("dispatched")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("%s - output is not JSON: %v (%q)", loggingTestPrefix, err, buf.String())
	}
	if rec["component"] != "relay" || rec["msg"] != "dispatched" {
		t.Errorf("%s - unexpected record %v", loggingTestPrefix, rec)
	}
}

func TestInit_TextRespectsLevel(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	Init(slog.LevelWarn, "text", &buf)

	slog.Info("hidden")
	slog.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("%s - info record written at warn level: %q", loggingTestPrefix, out)
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("%s - warn record missing: %q", loggingTestPrefix, out)
	}
}
