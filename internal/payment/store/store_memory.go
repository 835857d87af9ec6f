package store

import (
	"context"
	"sync"

	"bloodbridge/internal/payment/models"
	"bloodbridge/pkg/domain"
	"bloodbridge/pkg/platform/sentinel"
)

// InMemoryStore keeps payments in a slice. Used by tests and dev mode.
type InMemoryStore struct {
	mu         sync.RWMutex
	payments   []*models.Payment
	byExternal map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byExternal: make(map[string]struct{})}
}

func (s *InMemoryStore) Create(_ context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byExternal[payment.ExternalID]; exists {
		return sentinel.ErrConflict
	}
	cp := *payment
	s.payments = append(s.payments, &cp)
	s.byExternal[payment.ExternalID] = struct{}{}
	return nil
}

func (s *InMemoryStore) ListByEntity(_ context.Context, entity domain.EntityID) ([]*models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Payment
	for _, p := range s.payments {
		if p.Source == entity || p.Destination == entity {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
