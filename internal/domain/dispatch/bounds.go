package dispatch

import (
	"fmt"
	"strconv"
)

// Parameters are the constraint minimums snapshotted on a run.
type Parameters struct {
	MinReferenceQuantity int
	MinEanQuantity       int
}

func (p Parameters) Validate() error {
	if p.MinReferenceQuantity <= 0 || p.MinEanQuantity <= 0 {
		return fmt.Errorf("%w: min_reference_quantity=%d min_ean_quantity=%d", ErrInvalidParameters, p.MinReferenceQuantity, p.MinEanQuantity)
	}
	return nil
}

// BoundInput is the slice of a line item the calculator needs.
type BoundInput struct {
	LineItemID uint64
	ProductID  *uint64
	Reference  string
	Quantity   int
}

type Bounds struct {
	LineItemID           uint64
	MaxStoresByReference int
	MaxStoresByEan       int
	MaxStoresFinal       int
}

// GroupKey identifies the product aggregate an item belongs to. Unresolved items
// fall back to their raw reference so they still aggregate with their siblings.
func (in BoundInput) GroupKey() string {
	if in.ProductID != nil {
		return "product:" + strconv.FormatUint(*in.ProductID, 10)
	}
	return "reference:" + in.Reference
}

// ComputeBounds returns one Bounds per input, in input order.
func ComputeBounds(items []BoundInput, params Parameters) ([]Bounds, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	totals := make(map[string]int, len(items))
	for _, item := range items {
		totals[item.GroupKey()] += nonNegative(item.Quantity)
	}

	out := make([]Bounds, 0, len(items))
	for _, item := range items {
		byReference := totals[item.GroupKey()] / params.MinReferenceQuantity
		byEan := nonNegative(item.Quantity) / params.MinEanQuantity
		out = append(out, Bounds{
			LineItemID:           item.LineItemID,
			MaxStoresByReference: byReference,
			MaxStoresByEan:       byEan,
			MaxStoresFinal:       min(byReference, byEan),
		})
	}
	return out, nil
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
