// Package postgres owns the database handle, schema bootstrap, and the
// transaction runner that services use to group writes atomically.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	dErrors "bloodbridge/pkg/domain-errors"
	txcontext "bloodbridge/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the schema when it does not exist yet. The three ledger
// tables are append-only; the only UPDATE the application issues against
// them flips the confirmed flag.
func Migrate(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			role TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			organisation_name TEXT NOT NULL DEFAULT '',
			hospital_name TEXT NOT NULL DEFAULT '',
			blood_group TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			phone TEXT NOT NULL,
			address TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		ledgerTable("user_ledger"),
		ledgerTable("org_ledger"),
		ledgerTable("hospital_ledger"),
		`CREATE TABLE IF NOT EXISTS payments (
			id UUID PRIMARY KEY,
			order_id TEXT NOT NULL,
			payment_id TEXT NOT NULL UNIQUE,
			amount NUMERIC(12, 2) NOT NULL,
			blood_group TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			source_id UUID NOT NULL,
			destination_id UUID NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_outbox (
			id UUID PRIMARY KEY,
			aggregate_id TEXT NOT NULL,
			action TEXT NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			published_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS audit_outbox_unpublished_idx
			ON audit_outbox (created_at) WHERE published_at IS NULL`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// ledgerTable builds the shared DDL for one ledger scope. Aggregation is
// indexed by (entity, blood group, direction) so derived stock reads stay
// fast as the ledger grows.
func ledgerTable(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
		id UUID PRIMARY KEY,
		direction TEXT NOT NULL CHECK (direction IN ('in', 'out')),
		blood_group TEXT NOT NULL,
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		entity_id UUID NOT NULL,
		org_id UUID,
		hospital_id UUID,
		user_id UUID,
		correlation_id UUID,
		confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %[1]s_stock_idx ON %[1]s (entity_id, blood_group, direction);
	CREATE INDEX IF NOT EXISTS %[1]s_correlation_idx ON %[1]s (correlation_id)`, name)
}

// TxRunner groups store calls into one database transaction carried in
// the context (pkg/platform/tx). Stores that find the transaction there
// join it, so a ledger pair, its payment record, and its audit outbox row
// commit or roll back together.
type TxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	// Nested calls join the transaction already carried in the context.
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
