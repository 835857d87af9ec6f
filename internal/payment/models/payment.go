package models

import (
	"time"

	"github.com/shopspring/decimal"

	"bloodbridge/pkg/domain"
)

// Status of a payment. Only completed payments are ever recorded;
// failed signature checks never produce a row.
type Status string

const StatusCompleted Status = "completed"

// Payment is the immutable record of one verified monetary transfer. It
// is written atomically with the two ledger legs it authorizes.
type Payment struct {
	ID          domain.PaymentID  `json:"id"`
	OrderID     string            `json:"order_id"`
	ExternalID  string            `json:"payment_id"`
	Amount      decimal.Decimal   `json:"amount"`
	BloodGroup  domain.BloodGroup `json:"blood_group"`
	Quantity    int64             `json:"quantity"`
	Source      domain.EntityID   `json:"source"`
	Destination domain.EntityID   `json:"destination"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}
