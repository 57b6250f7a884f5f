package model

type Distribution struct {
	DistributionID string `gorm:"column:distribution_id;type:text;primaryKey"`
	RunID          string `gorm:"column:run_id;type:text;not null;index"`
	Name           string `gorm:"column:name;type:text;not null"`
	CreatedBy      string `gorm:"column:created_by;type:text;not null"`
	CreatedAt      string `gorm:"column:created_at;type:text;not null"`
}

func (Distribution) TableName() string {
	return "distributions"
}

type AllocationRecord struct {
	AllocationRecordID     uint64 `gorm:"column:allocation_record_id;primaryKey;autoIncrement"`
	DistributionID         string `gorm:"column:distribution_id;type:text;not null;index"`
	RunID                  string `gorm:"column:run_id;type:text;not null;index"`
	ProductID              uint64 `gorm:"column:product_id;not null"`
	StoreID                uint64 `gorm:"column:store_id;not null"`
	EANCode                string `gorm:"column:ean_code;type:text;not null"`
	Quantity               int    `gorm:"column:quantity;not null"`
	MeetsEanCriteria       bool   `gorm:"column:meets_ean_criteria;not null;default:false"`
	MeetsReferenceCriteria bool   `gorm:"column:meets_reference_criteria;not null;default:false"`
}

func (AllocationRecord) TableName() string {
	return "allocation_records"
}
