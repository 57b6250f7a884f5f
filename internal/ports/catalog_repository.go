package ports

import "context"

type Product struct {
	ProductID   uint64
	Reference   string
	Designation string
}

type Store struct {
	StoreID   uint64
	StoreCode string
	Name      string
	Weight    float64
	IsActive  bool
}

// CatalogRepository is the read side the pipeline needs from the product/store catalog,
// plus bulk upserts used by catalog imports.
type CatalogRepository interface {
	// FindProductIDsByReference returns reference -> product id for references present in the catalog.
	FindProductIDsByReference(ctx context.Context, references []string) (map[string]uint64, error)
	GetProductsByID(ctx context.Context, productIDs []uint64) (map[uint64]Product, error)
	GetStoresByID(ctx context.Context, storeIDs []uint64) (map[uint64]Store, error)
	ListActiveStores(ctx context.Context) ([]Store, error)
	UpsertProducts(ctx context.Context, products []Product) (int, error)
	UpsertStores(ctx context.Context, stores []Store) (int, error)
}
