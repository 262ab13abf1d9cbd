package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nimburion/transfers/pkg/observability/metrics"
)

// withTx runs fn inside a transaction on a context detached from caller
// cancellation. The transaction is rolled back when fn returns an error or
// panics and committed otherwise.
func (g *Gateway) withTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := g.writeContext(ctx)
	defer cancel()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	metrics.TransactionStarted()
	defer metrics.TransactionFinished()

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				g.logger.Error("failed to rollback transaction after panic",
					"operation", op,
					"panic", p,
					"rollback_error", rbErr,
				)
			}
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			g.logger.WithContext(ctx).Error("failed to rollback transaction",
				"operation", op,
				"original_error", err,
				"rollback_error", rbErr,
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}
