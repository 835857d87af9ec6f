package store

import (
	"context"

	"bloodbridge/internal/identity/models"
	"bloodbridge/pkg/domain"
)

// Store persists user accounts.
//
// Error Contract:
// - sentinel.ErrNotFound when an id or email does not resolve
// - sentinel.ErrConflict on duplicate email
// - wrapped infrastructure errors otherwise
type Store interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id domain.EntityID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]*models.User, error)
	Delete(ctx context.Context, id domain.EntityID) error
}
