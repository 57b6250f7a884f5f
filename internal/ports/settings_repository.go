package ports

import "context"

const (
	SettingStatusActive   = "active"
	SettingStatusArchived = "archived"
)

type ConstraintParameters struct {
	ParametersID         uint64
	MinReferenceQuantity int
	MinEanQuantity       int
	Status               string
	CreatedAt            string
	UpdatedAt            string
}

type AllocationProcedure struct {
	ProcedureID uint64
	Name        string
	Kind        string
	Payload     string
	Status      string
	CreatedAt   string
	UpdatedAt   string
}

// SettingsRepository stores operator-managed settings. At most one parameters row
// and one procedure row are active; the store enforces it with a partial unique index.
type SettingsRepository interface {
	CreateParameters(ctx context.Context, params ConstraintParameters) (ConstraintParameters, error)
	GetParameters(ctx context.Context, parametersID uint64) (ConstraintParameters, error)
	GetActiveParameters(ctx context.Context) (ConstraintParameters, error)
	ListParameters(ctx context.Context) ([]ConstraintParameters, error)
	ActivateParameters(ctx context.Context, parametersID uint64, updatedAt string) error

	UpsertProcedure(ctx context.Context, procedure AllocationProcedure) (AllocationProcedure, error)
	GetActiveProcedure(ctx context.Context) (AllocationProcedure, error)
	ListProcedures(ctx context.Context) ([]AllocationProcedure, error)
	ActivateProcedure(ctx context.Context, name string, updatedAt string) error
}
