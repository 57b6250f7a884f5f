package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStageRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder, err := NewStageRecorder(reg)
	if err != nil {
		t.Fatalf("NewStageRecorder() error = %v", err)
	}

	recorder.ObserveStage("ingest", "ok", 120*time.Millisecond)
	recorder.ObserveStage("ingest", "partial", time.Second)
	recorder.AddItems("ingest", 250)
	recorder.AddItems("ingest", 0)

	expected := `
# HELP stockdispatch_stage_runs_total Pipeline stage executions by outcome
# TYPE stockdispatch_stage_runs_total counter
stockdispatch_stage_runs_total{outcome="ok",stage="ingest"} 1
stockdispatch_stage_runs_total{outcome="partial",stage="ingest"} 1
`
	if err := testutil.CollectAndCompare(recorder.stages, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if got := testutil.ToFloat64(recorder.items.WithLabelValues("ingest")); got != 250 {
		t.Fatalf("items = %v, want 250", got)
	}
}

func TestStageRecorderReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewStageRecorder(reg)
	if err != nil {
		t.Fatalf("NewStageRecorder(first) error = %v", err)
	}
	second, err := NewStageRecorder(reg)
	if err != nil {
		t.Fatalf("NewStageRecorder(second) error = %v", err)
	}

	first.AddItems("calculate", 3)
	second.AddItems("calculate", 4)
	if got := testutil.ToFloat64(first.items.WithLabelValues("calculate")); got != 7 {
		t.Fatalf("shared counter = %v, want 7", got)
	}
}
