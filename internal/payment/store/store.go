package store

import (
	"context"

	"bloodbridge/internal/payment/models"
	"bloodbridge/pkg/domain"
)

// Store persists completed payments.
//
// Error Contract:
// - sentinel.ErrConflict when the external payment id was already recorded
// - wrapped infrastructure errors otherwise
type Store interface {
	Create(ctx context.Context, payment *models.Payment) error
	ListByEntity(ctx context.Context, entity domain.EntityID) ([]*models.Payment, error)
}
