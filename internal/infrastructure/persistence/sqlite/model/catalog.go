package model

type Product struct {
	ProductID   uint64 `gorm:"column:product_id;primaryKey;autoIncrement"`
	Reference   string `gorm:"column:reference;type:text;not null;uniqueIndex"`
	Designation string `gorm:"column:designation;type:text;not null;default:''"`
}

func (Product) TableName() string {
	return "products"
}

type Store struct {
	StoreID   uint64  `gorm:"column:store_id;primaryKey;autoIncrement"`
	StoreCode string  `gorm:"column:store_code;type:text;not null;uniqueIndex"`
	Name      string  `gorm:"column:name;type:text;not null;default:''"`
	Weight    float64 `gorm:"column:weight;not null;default:0"`
	IsActive  bool    `gorm:"column:is_active;not null;default:true"`
}

func (Store) TableName() string {
	return "stores"
}
