package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestWithAttrsLaterValueWins(t *testing.T) {
	ctx := WithAttrs(context.Background(), slog.String("component", "a"), slog.String("run_id", "r1"))
	ctx = WithAttrs(ctx, slog.String("component", "b"))

	attrs := Attrs(ctx)
	if len(attrs) != 2 {
		t.Fatalf("attrs = %v, want 2", attrs)
	}
	if attrs[0].Key != "component" || attrs[0].Value.String() != "b" {
		t.Fatalf("attrs[0] = %v, want component=b", attrs[0])
	}
	if attrs[1].Key != "run_id" {
		t.Fatalf("attrs[1] = %v, want run_id", attrs[1])
	}
}

func TestNewJSONLoggerCarriesRunAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "json", "debug")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRun(ctx, "dispatch.ingest", "run-1", "ingest")
	Debug(ctx, "batch committed", slog.Int("processed", 100))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	for key, want := range map[string]any{
		"msg":       "batch committed",
		"component": "dispatch.ingest",
		"run_id":    "run-1",
		"stage":     "ingest",
		"processed": float64(100),
	} {
		if line[key] != want {
			t.Fatalf("%s = %v, want %v", key, line[key], want)
		}
	}
}

func TestLevelFiltersLowerRecords(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "text", "warn")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := WithLogger(context.Background(), logger)

	Info(ctx, "hidden")
	Warn(ctx, "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New(nil, "xml", "info"); err == nil {
		t.Fatalf("New() with xml format: want error")
	}
	if _, err := New(nil, "text", "loud"); err == nil {
		t.Fatalf("New() with unknown level: want error")
	}
}
