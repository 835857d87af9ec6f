package service

import (
	"context"

	ledgersvc "bloodbridge/internal/ledger/service"
	"bloodbridge/pkg/domain"
)

// Resolver adapts the identity store to the ledger's EntityResolver port.
type Resolver struct {
	service *Service
}

func NewResolver(service *Service) *Resolver {
	return &Resolver{service: service}
}

func (r *Resolver) ResolveEntity(ctx context.Context, id domain.EntityID) (*ledgersvc.Entity, error) {
	user, err := r.service.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ledgersvc.Entity{
		ID:    user.ID,
		Role:  user.Role,
		Name:  user.DisplayName(),
		Email: user.Email,
	}, nil
}
