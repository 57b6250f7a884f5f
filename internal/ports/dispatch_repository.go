package ports

import (
	"context"
	"errors"
)

var (
	ErrRunNotFound          = errors.New("dispatch run not found")
	ErrRunStatusConflict    = errors.New("dispatch run status changed concurrently")
	ErrDistributionNotFound = errors.New("distribution not found")
	ErrParametersNotFound   = errors.New("constraint parameters not found")
	ErrProcedureNotFound    = errors.New("allocation procedure not found")
)

type DispatchRun struct {
	RunID                string
	Name                 string
	Status               string
	ParametersID         *uint64
	MinReferenceQuantity int
	MinEanQuantity       int
	ProcedureName        string
	ProcedureKind        string
	ProcedurePayload     string
	DistributionID       *string
	CreatedBy            string
	CreatedAt            string
	UpdatedAt            string
}

type RunFilter struct {
	Status string
	Limit  int
}

type LineItem struct {
	LineItemID           uint64
	RunID                string
	Reference            string
	ProductID            *uint64
	EANCode              string
	Size                 string
	Quantity             int
	ExpeditionDate       *string
	ReferenceNotFound    bool
	MaxStoresByReference *int
	MaxStoresByEan       *int
	MaxStoresFinal       *int
}

type LineItemCreate struct {
	RunID             string
	Reference         string
	ProductID         *uint64
	EANCode           string
	Size              string
	Quantity          int
	ExpeditionDate    *string
	ReferenceNotFound bool
}

type LineItemBounds struct {
	LineItemID           uint64
	MaxStoresByReference int
	MaxStoresByEan       int
	MaxStoresFinal       int
}

type Distribution struct {
	DistributionID string
	RunID          string
	Name           string
	CreatedBy      string
	CreatedAt      string
}

type AllocationRecord struct {
	AllocationRecordID     uint64
	DistributionID         string
	RunID                  string
	ProductID              uint64
	StoreID                uint64
	EANCode                string
	Quantity               int
	MeetsEanCriteria       bool
	MeetsReferenceCriteria bool
}

type RunRepository interface {
	CreateRun(ctx context.Context, run DispatchRun) (DispatchRun, error)
	GetRun(ctx context.Context, runID string) (DispatchRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]DispatchRun, error)
	// UpdateRunStatus moves a run from one status to another and fails with
	// ErrRunStatusConflict when the stored status is not `from`.
	UpdateRunStatus(ctx context.Context, runID string, from string, to string, updatedAt string) error
	SetRunParameters(ctx context.Context, runID string, params ConstraintParameters, updatedAt string) error
	SetRunDistribution(ctx context.Context, runID string, distributionID string, updatedAt string) error
	DeleteRun(ctx context.Context, runID string) error
}

type LineItemRepository interface {
	InsertLineItems(ctx context.Context, items []LineItemCreate) error
	CountLineItems(ctx context.Context, runID string) (int64, error)
	ListLineItems(ctx context.Context, runID string) ([]LineItem, error)
	UpdateLineItemBounds(ctx context.Context, bounds LineItemBounds) error
	// ClearLineItemBounds resets the derived bounds of every line item of a run to null.
	ClearLineItemBounds(ctx context.Context, runID string) (int64, error)
	DeleteLineItems(ctx context.Context, runID string) (int64, error)
}

type DistributionRepository interface {
	CreateDistribution(ctx context.Context, distribution Distribution, records []AllocationRecord) error
	GetDistribution(ctx context.Context, distributionID string) (Distribution, error)
	ListAllocationRecords(ctx context.Context, distributionID string) ([]AllocationRecord, error)
	CountAllocationRecords(ctx context.Context, distributionID string) (int64, error)
}

type DispatchRepository interface {
	RunRepository
	LineItemRepository
	DistributionRepository
}
