package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"bloodbridge/internal/payment/models"
	"bloodbridge/pkg/domain"
	"bloodbridge/pkg/platform/sentinel"
	txcontext "bloodbridge/pkg/platform/tx"
)

const paymentColumns = `id, order_id, payment_id, amount, blood_group, quantity,
	source_id, destination_id, status, created_at`

// PostgresStore persists payments. Create joins a transaction carried in
// the context so the payment row commits with its ledger legs.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, payment *models.Payment) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		payment.ID.String(), payment.OrderID, payment.ExternalID, payment.Amount,
		string(payment.BloodGroup), payment.Quantity, payment.Source.String(),
		payment.Destination.String(), string(payment.Status), payment.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEntity(ctx context.Context, entity domain.EntityID) ([]*models.Payment, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE source_id = $1 OR destination_id = $1
		ORDER BY created_at DESC
	`, entity.String())
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		var (
			p           models.Payment
			id          string
			bloodGroup  string
			source      string
			destination string
			status      string
		)
		if err := rows.Scan(&id, &p.OrderID, &p.ExternalID, &p.Amount, &bloodGroup,
			&p.Quantity, &source, &destination, &status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		parsedID, err := domain.ParseEntityID(id)
		if err != nil {
			return nil, fmt.Errorf("parse payment id: %w", err)
		}
		p.ID = domain.PaymentID(parsedID)
		if p.Source, err = domain.ParseEntityID(source); err != nil {
			return nil, fmt.Errorf("parse source id: %w", err)
		}
		if p.Destination, err = domain.ParseEntityID(destination); err != nil {
			return nil, fmt.Errorf("parse destination id: %w", err)
		}
		p.BloodGroup = domain.BloodGroup(bloodGroup)
		p.Status = models.Status(status)
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}
