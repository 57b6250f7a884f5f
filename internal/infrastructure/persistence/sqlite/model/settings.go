package model

type ConstraintParameters struct {
	ParametersID         uint64 `gorm:"column:parameters_id;primaryKey;autoIncrement"`
	MinReferenceQuantity int    `gorm:"column:min_reference_quantity;not null;check:chk_min_reference_positive,min_reference_quantity > 0"`
	MinEanQuantity       int    `gorm:"column:min_ean_quantity;not null;check:chk_min_ean_positive,min_ean_quantity > 0"`
	Status               string `gorm:"column:status;type:text;not null;index"`
	CreatedAt            string `gorm:"column:created_at;type:text;not null"`
	UpdatedAt            string `gorm:"column:updated_at;type:text;not null"`
}

func (ConstraintParameters) TableName() string {
	return "constraint_parameters"
}

type AllocationProcedure struct {
	ProcedureID uint64 `gorm:"column:procedure_id;primaryKey;autoIncrement"`
	Name        string `gorm:"column:name;type:text;not null;uniqueIndex"`
	Kind        string `gorm:"column:kind;type:text;not null"`
	Payload     string `gorm:"column:payload;type:text;not null;default:''"`
	Status      string `gorm:"column:status;type:text;not null;index"`
	CreatedAt   string `gorm:"column:created_at;type:text;not null"`
	UpdatedAt   string `gorm:"column:updated_at;type:text;not null"`
}

func (AllocationProcedure) TableName() string {
	return "allocation_procedures"
}
