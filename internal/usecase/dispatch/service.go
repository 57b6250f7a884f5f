package dispatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

const (
	DefaultBatchSize = 100

	StageIngest    = "ingest"
	StageCalculate = "calculate"
	StageAllocate  = "allocate"
)

var errContextRequired = errors.New("context is required")

type Service struct {
	runs       ports.DispatchRepository
	settings   ports.SettingsRepository
	catalog    ports.CatalogRepository
	uow        ports.UnitOfWork
	progress   ports.ProgressStore
	allocators ports.AllocatorResolver
	events     ports.RunEventPublisher
	recorder   ports.StageRecorder

	validatePayload   PayloadValidator
	batchSize         int
	allocationTimeout time.Duration
	inflight          sync.Map

	now   func() time.Time
	newID func() string
}

// Dependencies are the collaborators of the pipeline. Progress, Events, Recorder and
// ValidatePayload are optional.
type Dependencies struct {
	Runs            ports.DispatchRepository
	Settings        ports.SettingsRepository
	Catalog         ports.CatalogRepository
	UnitOfWork      ports.UnitOfWork
	Progress        ports.ProgressStore
	Allocators      ports.AllocatorResolver
	Events          ports.RunEventPublisher
	Recorder        ports.StageRecorder
	ValidatePayload PayloadValidator
}

type Options struct {
	BatchSize         int
	AllocationTimeout time.Duration
}

func NewService(deps Dependencies, opts Options) *Service {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Service{
		runs:              deps.Runs,
		settings:          deps.Settings,
		catalog:           deps.Catalog,
		uow:               deps.UnitOfWork,
		progress:          deps.Progress,
		allocators:        deps.Allocators,
		events:            deps.Events,
		recorder:          deps.Recorder,
		validatePayload:   deps.ValidatePayload,
		batchSize:         batchSize,
		allocationTimeout: opts.AllocationTimeout,
		now:               func() time.Time { return time.Now().UTC() },
		newID:             func() string { return uuid.NewString() },
	}
}

// Run is the caller-facing view of a DispatchRun.
type Run struct {
	RunID          string
	Name           string
	Status         domaindispatch.Status
	ParametersID   uint64
	Parameters     domaindispatch.Parameters
	Procedure      ProcedureSnapshot
	DistributionID string
	CreatedBy      string
	CreatedAt      string
	UpdatedAt      string
}

type ProcedureSnapshot struct {
	Name    string
	Kind    string
	Payload string
}

// RunDetail adds record counts to a Run.
type RunDetail struct {
	Run
	LineItems         int64
	AllocationRecords int64
	Progress          []Progress
}

type CreateRunInput struct {
	Name  string
	Actor string
}

type ListRunsInput struct {
	Status string
	Limit  int
}

// Progress is a stage checkpoint: processed out of total line items.
type Progress struct {
	RunID     string `json:"run_id" yaml:"run_id"`
	Stage     string `json:"stage" yaml:"stage"`
	Processed int    `json:"processed" yaml:"processed"`
	Total     int    `json:"total" yaml:"total"`
	Percent   int    `json:"percent" yaml:"percent"`
	Done      bool   `json:"done" yaml:"done"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	UpdatedAt string `json:"updated_at" yaml:"updated_at"`
}

// ProgressFunc receives checkpoints as a stage advances. It runs on the stage goroutine.
type ProgressFunc func(Progress)

type IngestManifestInput struct {
	RunID    string
	Reader   io.Reader
	Progress ProgressFunc
}

type IngestManifestResult struct {
	RunID              string
	Rows               int
	Inserted           int
	NotFound           int
	NotFoundReferences []string
}

type CalculateInput struct {
	RunID    string
	Progress ProgressFunc
}

type CalculateResult struct {
	RunID      string
	Processed  int
	Parameters domaindispatch.Parameters
}

type AllocateInput struct {
	RunID string
	Actor string
}

type AllocateResult struct {
	RunID          string
	DistributionID string
	Records        int64
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return errContextRequired
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}
	return nil
}

func (s *Service) nowString() string {
	return s.now().Format(time.RFC3339Nano)
}
