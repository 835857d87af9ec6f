package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "bloodbridge/pkg/platform/audit"
	txcontext "bloodbridge/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the
// outbox worker. When a ledger transaction is present in the context the
// outbox row commits or rolls back with it.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID            string `json:"id"`
	Action        string `json:"action"`
	Timestamp     string `json:"timestamp"`
	Entity        string `json:"entity,omitempty"`
	Counterparty  string `json:"counterparty,omitempty"`
	BloodGroup    string `json:"blood_group,omitempty"`
	Quantity      int64  `json:"quantity,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	payload := outboxPayload{
		ID:         eventID.String(),
		Action:     string(event.Action),
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
		BloodGroup: event.BloodGroup.String(),
		Quantity:   event.Quantity,
		Reason:     event.Reason,
		RequestID:  event.RequestID,
	}
	if !event.Entity.IsNil() {
		payload.Entity = event.Entity.String()
	}
	if !event.Counterparty.IsNil() {
		payload.Counterparty = event.Counterparty.String()
	}
	if !event.CorrelationID.IsNil() {
		payload.CorrelationID = event.CorrelationID.String()
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateID := eventID.String()
	if !event.Entity.IsNil() {
		aggregateID = event.Entity.String()
	}

	query := `
		INSERT INTO audit_outbox (id, aggregate_id, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		eventID,
		aggregateID,
		string(event.Action),
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}
