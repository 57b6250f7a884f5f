package dispatch

import (
	"math"
	"sort"
)

// AllocationItem is a line item as seen by the weighted allocation.
type AllocationItem struct {
	ProductID      *uint64
	EANCode        string
	Quantity       int
	MaxStoresFinal *int
}

type WeightedStore struct {
	StoreID uint64
	Weight  float64
}

type Allocation struct {
	ProductID              uint64
	StoreID                uint64
	EANCode                string
	Quantity               int
	MeetsEanCriteria       bool
	MeetsReferenceCriteria bool
}

// AllocateWeighted spreads each item over its top MaxStoresFinal stores by weight,
// giving each store floor(quantity * weight / selected weight). Zero shares are dropped,
// so the sum per item never exceeds its quantity. Items without a product are skipped.
// A nil MaxStoresFinal means every store is eligible.
func AllocateWeighted(items []AllocationItem, stores []WeightedStore, params Parameters) []Allocation {
	ranked := make([]WeightedStore, 0, len(stores))
	for _, store := range stores {
		if store.Weight > 0 {
			ranked = append(ranked, store)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Weight > ranked[j].Weight
	})

	out := make([]Allocation, 0, len(items))
	for _, item := range items {
		if item.ProductID == nil || item.Quantity <= 0 {
			continue
		}

		limit := len(ranked)
		if item.MaxStoresFinal != nil {
			limit = min(max(*item.MaxStoresFinal, 0), len(ranked))
		}
		selected := ranked[:limit]

		var total float64
		for _, store := range selected {
			total += store.Weight
		}
		if total <= 0 {
			continue
		}

		for _, store := range selected {
			share := int(math.Floor(float64(item.Quantity) * store.Weight / total))
			if share <= 0 {
				continue
			}
			out = append(out, Allocation{
				ProductID: *item.ProductID,
				StoreID:   store.StoreID,
				EANCode:   item.EANCode,
				Quantity:  share,
			})
		}
	}

	flagCriteria(out, params)
	return out
}

// flagCriteria marks each allocation against the minimums: per EAN on its own quantity,
// per reference on the total allocated to its product across the distribution.
func flagCriteria(allocations []Allocation, params Parameters) {
	totals := make(map[uint64]int, len(allocations))
	for _, a := range allocations {
		totals[a.ProductID] += a.Quantity
	}
	for i := range allocations {
		allocations[i].MeetsEanCriteria = allocations[i].Quantity >= params.MinEanQuantity
		allocations[i].MeetsReferenceCriteria = totals[allocations[i].ProductID] >= params.MinReferenceQuantity
	}
}
