package model

type DispatchRun struct {
	RunID                string  `gorm:"column:run_id;type:text;primaryKey"`
	Name                 string  `gorm:"column:name;type:text;not null"`
	Status               string  `gorm:"column:status;type:text;not null;index"`
	ParametersID         *uint64 `gorm:"column:parameters_id"`
	MinReferenceQuantity int     `gorm:"column:min_reference_quantity;not null"`
	MinEanQuantity       int     `gorm:"column:min_ean_quantity;not null"`
	ProcedureName        string  `gorm:"column:procedure_name;type:text;not null"`
	ProcedureKind        string  `gorm:"column:procedure_kind;type:text;not null"`
	ProcedurePayload     string  `gorm:"column:procedure_payload;type:text;not null;default:''"`
	DistributionID       *string `gorm:"column:distribution_id;type:text"`
	CreatedBy            string  `gorm:"column:created_by;type:text;not null"`
	CreatedAt            string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt            string  `gorm:"column:updated_at;type:text;not null"`
}

func (DispatchRun) TableName() string {
	return "dispatch_runs"
}
