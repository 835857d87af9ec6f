package audit

import (
	"context"
	"time"

	"bloodbridge/pkg/domain"
)

// Action names an auditable fact about the ledger or its participants.
type Action string

const (
	ActionUserRegistered    Action = "user_registered"
	ActionUserDeleted       Action = "user_deleted"
	ActionLoginSucceeded    Action = "login_succeeded"
	ActionDonationRecorded  Action = "donation_recorded"
	ActionTransferRecorded  Action = "transfer_recorded"
	ActionDispenseRecorded  Action = "dispense_recorded"
	ActionDonationCollected Action = "donation_collected"
	ActionDonationReceived  Action = "donation_received"
	ActionPaymentVerified   Action = "payment_verified"
	ActionTransferRejected  Action = "transfer_rejected"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Action        Action
	Timestamp     time.Time
	Entity        domain.EntityID
	Counterparty  domain.EntityID
	BloodGroup    domain.BloodGroup
	Quantity      int64
	CorrelationID domain.CorrelationID
	Reason        string
	RequestID     string
}

// Store persists audit events. The PostgreSQL implementation writes to a
// transactional outbox so events commit atomically with the ledger writes
// that caused them; a worker drains the outbox to Kafka.
type Store interface {
	Append(ctx context.Context, event Event) error
}
