package uow

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"stockdispatch/internal/ports"
)

// UnitOfWork runs dispatch writes in a gorm transaction.
type UnitOfWork struct {
	db *gorm.DB
}

var _ ports.UnitOfWork = (*UnitOfWork)(nil)

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// WithTx joins a transaction already on ctx through a savepoint, so a failing inner
// step rolls back alone and the caller decides whether the outer one commits.
func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if fn == nil {
		return errors.New("transaction body is required")
	}

	base := u.db
	if ports.InTx(ctx) {
		outer, ok := ports.TxFromContext(ctx).(*gorm.DB)
		if !ok || outer == nil {
			return fmt.Errorf("invalid tx in context: %T", ports.TxFromContext(ctx))
		}
		base = outer
	}

	return base.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx))
	})
}
