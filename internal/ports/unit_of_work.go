package ports

import "context"

// Tx is the transaction handle repositories find on ctx. The adapter decides its concrete type.
type Tx any

// UnitOfWork commits fn's writes together or not at all.
// Ingestion opens one per batch so earlier batches survive a later failure.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

func WithTxContext(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func TxFromContext(ctx context.Context) Tx {
	if ctx == nil {
		return nil
	}
	return ctx.Value(txKey{})
}

// InTx reports whether ctx already carries a transaction.
func InTx(ctx context.Context) bool {
	return TxFromContext(ctx) != nil
}
