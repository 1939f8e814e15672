package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewWriter_JSONFiltersBelowLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn", "")
	log.Info("dropped")
	log.Warn("kept", slog.String("category", "lego"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["category"] != "lego" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewWriter_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewWriter(&buf, "info", "TEXT").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("want text output, got %q", buf.String())
	}
}

func TestFromContext_DefaultAndAttrs(t *testing.T) {
	t.Parallel()

	if FromContext(context.Background()) != slog.Default() {
		t.Error("empty context should yield slog.Default")
	}

	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWriter(&buf, "info", "text"))
	ctx = WithAttrs(ctx, slog.String("session_id", "s-1"))
	FromContext(ctx).Info("tagged")
	if !strings.Contains(buf.String(), "session_id=s-1") {
		t.Errorf("attrs missing: %q", buf.String())
	}
}
