package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stockdispatch/internal/ports"
)

// StageRecorder records pipeline stage outcomes and processed item counts.
type StageRecorder struct {
	stages   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	items    *prometheus.CounterVec
}

var _ ports.StageRecorder = (*StageRecorder)(nil)

// NewStageRecorder registers the stage collectors on reg, or on the default registerer
// when reg is nil. Collectors that are already registered are reused.
func NewStageRecorder(reg prometheus.Registerer) (*StageRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	stages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockdispatch_stage_runs_total",
		Help: "Pipeline stage executions by outcome",
	}, []string{"stage", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockdispatch_stage_duration_seconds",
		Help:    "Pipeline stage wall time",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage", "outcome"})
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockdispatch_stage_items_total",
		Help: "Line items written by pipeline stages",
	}, []string{"stage"})

	var err error
	if stages, err = register(reg, stages); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if items, err = register(reg, items); err != nil {
		return nil, err
	}
	return &StageRecorder{stages: stages, duration: duration, items: items}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return collector, err
	}
	return collector, nil
}

func (r *StageRecorder) ObserveStage(stage string, outcome string, elapsed time.Duration) {
	r.stages.WithLabelValues(stage, outcome).Inc()
	r.duration.WithLabelValues(stage, outcome).Observe(elapsed.Seconds())
}

func (r *StageRecorder) AddItems(stage string, count int) {
	if count <= 0 {
		return
	}
	r.items.WithLabelValues(stage).Add(float64(count))
}

// Nop discards measurements.
type Nop struct{}

func (Nop) ObserveStage(string, string, time.Duration) {}
func (Nop) AddItems(string, int)                         {}
