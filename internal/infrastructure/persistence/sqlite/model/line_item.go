package model

type LineItem struct {
	LineItemID           uint64  `gorm:"column:line_item_id;primaryKey;autoIncrement"`
	RunID                string  `gorm:"column:run_id;type:text;not null;index"`
	Reference            string  `gorm:"column:reference;type:text;not null"`
	ProductID            *uint64 `gorm:"column:product_id;index"`
	EANCode              string  `gorm:"column:ean_code;type:text;not null"`
	Size                 string  `gorm:"column:size;type:text;not null"`
	Quantity             int     `gorm:"column:quantity;not null"`
	ExpeditionDate       *string `gorm:"column:expedition_date;type:text"`
	ReferenceNotFound    bool    `gorm:"column:reference_not_found;not null;default:false"`
	MaxStoresByReference *int    `gorm:"column:max_stores_by_reference"`
	MaxStoresByEan       *int    `gorm:"column:max_stores_by_ean"`
	MaxStoresFinal       *int    `gorm:"column:max_stores_final"`
}

func (LineItem) TableName() string {
	return "line_items"
}
