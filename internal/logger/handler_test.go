package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"log/slog"
)

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatKV,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})
	ctx := WithRID(Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)

	log := slog.New(handler).With("component", "engine")
	LogEvent(ctx, log, slog.LevelInfo, "test.event",
		slog.String("status", "ok"),
		slog.String("step", "awaiting_location"),
	)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	tokens := strings.Split(line, " ")
	if len(tokens) < 6 {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	expected := []string{"ts=", "level=INFO", "component=engine", "event=test.event", "status=ok", "rid=rid-123"}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
	if !strings.Contains(line, "step=awaiting_location") {
		t.Fatalf("missing step attribute: %s", line)
	}
}

func TestStructuredHandlerJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   formatJSON,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	})

	log := slog.New(handler).With("component", "db")
	LogEvent(Background(), log, slog.LevelWarn, "db.slow",
		slog.Int64("user_id", 15),
		slog.Bool("retryable", true),
	)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("invalid json %q: %v", line, err)
	}
	if decoded["level"] != "WARN" {
		t.Fatalf("level = %v", decoded["level"])
	}
	if decoded["component"] != "db" {
		t.Fatalf("component = %v", decoded["component"])
	}
	if decoded["event"] != "db.slow" {
		t.Fatalf("event = %v", decoded["event"])
	}
	if decoded["user_id"] != float64(15) {
		t.Fatalf("user_id = %v", decoded["user_id"])
	}
	// level must precede payload keys in the raw line
	if strings.Index(line, `"level"`) > strings.Index(line, `"user_id"`) {
		t.Fatalf("key order not applied: %s", line)
	}
}

func TestStructuredHandlerBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	handler := newStructuredHandler(handlerConfig{
		level:  slog.LevelInfo,
		writer: aw,
		format: formatKV,
	})
	log := slog.New(handler)
	log.Debug("hidden")
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "" {
		t.Fatalf("expected no output, got %q", got)
	}
}

func TestSanitizeLimit(t *testing.T) {
	in := "hello\nworld"
	out := SanitizeLimit(in, 8)
	if strings.ContainsRune(out, '\n') {
		t.Fatalf("control char kept: %q", out)
	}
	if len([]rune(out)) > 9 { // 8 runes + ellipsis
		t.Fatalf("not truncated: %q", out)
	}
}
