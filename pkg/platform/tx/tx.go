package tx

import (
	"context"
	"database/sql"
)

type txKey struct{}

// WithTx carries an open SQL transaction in the context. Stores check for
// it and execute against the transaction instead of the pool, which is
// how a ledger pair, its payment row, and its audit event end up in one
// commit.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, tx)
}

// From returns the transaction carried in the context, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}
