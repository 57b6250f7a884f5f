package ports

import (
	"context"
	"time"
)

type RunEvent struct {
	RunID      string `json:"run_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Actor      string `json:"actor,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// RunEventPublisher announces run status transitions. Publishing is best effort.
type RunEventPublisher interface {
	PublishRunEvent(ctx context.Context, event RunEvent) error
}

// StageRecorder receives pipeline stage measurements.
type StageRecorder interface {
	ObserveStage(stage string, outcome string, elapsed time.Duration)
	AddItems(stage string, count int)
}
