package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("site", "Chongoyape")).Info(context.Background(), "calibrated",
		Int("flight", 2), Float64("a", 0.99), Bool("matched", true), Err(errors.New("boom")))

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	want := map[string]interface{}{
		"msg":     "calibrated",
		"level":   "INFO",
		"site":    "Chongoyape",
		"flight":  float64(2),
		"a":       0.99,
		"matched": true,
		"error":   "boom",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %v", k, rec[k], v)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	ctx := context.Background()

	log.Debug(ctx, "hidden")
	log.Info(ctx, "hidden")
	log.Warn(ctx, "shown")
	log.Error(ctx, "shown too")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("messages below warn were written:\n%s", out)
	}
	if strings.Count(out, "shown") != 2 {
		t.Fatalf("expected warn and error lines:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error+2": slog.LevelError + 2,
		"loud":    slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{"LOG_LEVEL": "debug", "LOG_FORMAT": "json"}
	got := ConfigFromEnv(func(k string) string { return env[k] })
	if got.Level != "debug" || got.Format != "json" {
		t.Fatalf("ConfigFromEnv = %+v", got)
	}
	if got := ConfigFromEnv(nil); got != (Config{}) {
		t.Fatalf("ConfigFromEnv(nil) = %+v, want zero", got)
	}
}

func TestWithRequestKeepsValidIDs(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx, id := WithRequest(context.Background(), base, "req-1")
	if id != "req-1" || RequestID(ctx) != "req-1" {
		t.Fatalf("WithRequest id = %q, context id = %q", id, RequestID(ctx))
	}
	FromContext(ctx).With(String("k", "v")).Info(ctx, "hello")
	if !strings.Contains(buf.String(), `"request_id":"req-1"`) {
		t.Fatalf("request id missing from log line: %s", buf.String())
	}

	buf.Reset()
	base.Info(context.Background(), "outside")
	if strings.Contains(buf.String(), "request_id") {
		t.Fatalf("request id logged outside a request: %s", buf.String())
	}
}

func TestWithRequestReplacesBadIDs(t *testing.T) {
	for _, in := range []string{"", "has space", "line\nbreak", strings.Repeat("x", 65)} {
		_, id := WithRequest(context.Background(), Noop(), in)
		if _, err := uuid.Parse(id); err != nil {
			t.Errorf("WithRequest(%q) id = %q, want a UUID", in, id)
		}
	}
	if !ValidRequestID(strings.Repeat("x", 64)) {
		t.Fatalf("64 character id rejected")
	}
}

func TestFromContextDefaultsToNoop(t *testing.T) {
	log := FromContext(context.Background())
	if _, ok := log.(noopLogger); !ok {
		t.Fatalf("FromContext = %T, want noopLogger", log)
	}
	if RequestID(context.Background()) != "" {
		t.Fatalf("empty context has a request id")
	}
	log.With(String("k", "v")).Error(context.Background(), "dropped")
}
