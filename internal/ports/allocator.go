package ports

import (
	"context"
	"encoding/json"
)

type AllocationProcedureRef struct {
	Name    string          `json:"name" jsonschema:"description=Procedure name as registered in the procedures catalog"`
	Kind    string          `json:"kind" jsonschema:"enum=builtin,enum=process,enum=http"`
	Payload json.RawMessage `json:"payload,omitempty" jsonschema:"description=Kind specific settings snapshotted on the run"`
}

// AllocationRequest is sent to an allocation procedure.
type AllocationRequest struct {
	RunID     string                 `json:"dispatch_run_id" jsonschema:"required"`
	Procedure AllocationProcedureRef `json:"procedure" jsonschema:"required"`
	Actor     string                 `json:"actor,omitempty"`
}

// AllocationResult is what an allocation procedure reports back. On success the
// procedure has already written its allocation records under DistributionID.
type AllocationResult struct {
	Success        bool   `json:"success" jsonschema:"required"`
	DistributionID string `json:"distribution_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Allocator runs one allocation procedure to completion.
type Allocator interface {
	Allocate(ctx context.Context, req AllocationRequest) (AllocationResult, error)
}

// AllocatorResolver picks the Allocator matching a snapshotted procedure.
type AllocatorResolver interface {
	Resolve(procedure AllocationProcedureRef) (Allocator, error)
}
