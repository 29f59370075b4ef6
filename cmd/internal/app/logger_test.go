package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()

	var jsonBuf bytes.Buffer
	newLogger(&jsonBuf, "info", "json").Info("delivery.send.fail", "code", "timeout")
	var line map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &line); err != nil {
		t.Fatalf("json format must emit JSON: %v", err)
	}
	if line["msg"] != "delivery.send.fail" || line["code"] != "timeout" || line["source"] == nil {
		t.Fatalf("unexpected json line: %v", line)
	}

	var textBuf bytes.Buffer
	newLogger(&textBuf, "warn", "text").Info("dropped")
	if textBuf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level")
	}

	var prettyBuf bytes.Buffer
	newLogger(&prettyBuf, "debug", "pretty").Warn("ratelimit.store.fail_open", "key", "waitlist ip", "status", 429)
	out := prettyBuf.String()
	if !strings.Contains(out, "WARN") || !strings.Contains(out, `key="waitlist ip"`) || !strings.Contains(out, "status=429") {
		t.Fatalf("unexpected pretty line: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("non-terminal writers must not receive ANSI codes: %q", out)
	}
}
