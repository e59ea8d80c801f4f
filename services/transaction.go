package services

import (
	"context"

	"github.com/upb/helpdesk/repositories"
)

// WithTransaction executes fn within a database transaction. The context
// passed to fn carries the transaction, so repositories called with it join
// the transaction. Commits on success, rolls back on error or panic.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return txMgr.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) (err error) {
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p) // Re-panic after rollback
			}
		}()
		return fn(ctx, tx)
	})
}

// WithTransactionResult executes fn within a database transaction and returns its result.
// The result is only returned when the transaction committed.
func WithTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) (T, error)) (T, error) {
	var result T

	err := WithTransaction(ctx, txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		var err error
		result, err = fn(ctx, tx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
