package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"stockdispatch/internal/ports"
)

// dbFromContext runs statements inside the unit of work's transaction when ctx carries one.
func dbFromContext(ctx context.Context, base *gorm.DB) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if !ports.InTx(ctx) {
		return base.WithContext(ctx), nil
	}

	tx, ok := ports.TxFromContext(ctx).(*gorm.DB)
	if !ok || tx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", ports.TxFromContext(ctx))
	}
	return tx.WithContext(ctx), nil
}

// chunk splits values so IN lists stay bounded.
func chunk[T any](values []T, size int) [][]T {
	if size <= 0 || len(values) <= size {
		if len(values) == 0 {
			return nil
		}
		return [][]T{values}
	}

	out := make([][]T, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := min(start+size, len(values))
		out = append(out, values[start:end])
	}
	return out
}

const inListChunkSize = 500
