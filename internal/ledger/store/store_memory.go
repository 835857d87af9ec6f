package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bloodbridge/internal/ledger/models"
	"bloodbridge/pkg/domain"
	"bloodbridge/pkg/platform/sentinel"
)

// InMemoryStore keeps the three ledger collections in process memory for
// tests and development. All check-then-append paths run under one lock,
// which gives the same serialization guarantee the PostgreSQL store gets
// from conditional inserts.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[models.Scope][]*models.Record
	byID    map[models.Scope]map[domain.RecordID]*models.Record
}

func NewInMemoryStore() *InMemoryStore {
	s := &InMemoryStore{
		records: make(map[models.Scope][]*models.Record),
		byID:    make(map[models.Scope]map[domain.RecordID]*models.Record),
	}
	for _, scope := range []models.Scope{models.ScopeUser, models.ScopeOrganisation, models.ScopeHospital} {
		s.byID[scope] = make(map[domain.RecordID]*models.Record)
	}
	return s
}

func (s *InMemoryStore) Append(_ context.Context, record *models.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(record)
	return nil
}

func (s *InMemoryStore) AppendPair(_ context.Context, first, second *models.Record) error {
	if err := first.Validate(); err != nil {
		return err
	}
	if err := second.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(first)
	s.append(second)
	return nil
}

func (s *InMemoryStore) AppendPairGuarded(_ context.Context, guard Guard, first, second *models.Record) (int64, error) {
	if err := first.Validate(); err != nil {
		return 0, err
	}
	if err := second.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	available := s.sumLocked(guard.Scope, guard.Entity, guard.BloodGroup, models.DirectionIn) -
		s.sumLocked(guard.Scope, guard.Entity, guard.BloodGroup, models.DirectionOut)
	if available < guard.Quantity {
		return available, ErrInsufficientStock
	}
	s.append(first)
	s.append(second)
	return available, nil
}

func (s *InMemoryStore) Sum(_ context.Context, scope models.Scope, entity domain.EntityID, bg domain.BloodGroup, dir models.Direction) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumLocked(scope, entity, bg, dir), nil
}

func (s *InMemoryStore) SumAll(_ context.Context, scope models.Scope, bg domain.BloodGroup, dir models.Direction) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, r := range s.records[scope] {
		if r.BloodGroup == bg && r.Direction == dir {
			total += r.Quantity
		}
	}
	return total, nil
}

func (s *InMemoryStore) GroupTotals(_ context.Context, scope models.Scope) ([]models.GroupTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		entity domain.EntityID
		bg     domain.BloodGroup
		dir    models.Direction
	}
	totals := make(map[key]int64)
	for _, r := range s.records[scope] {
		totals[key{r.Entity, r.BloodGroup, r.Direction}] += r.Quantity
	}

	out := make([]models.GroupTotal, 0, len(totals))
	for k, total := range totals {
		out = append(out, models.GroupTotal{Entity: k.entity, BloodGroup: k.bg, Direction: k.dir, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity.String() < out[j].Entity.String()
		}
		if out[i].BloodGroup != out[j].BloodGroup {
			return out[i].BloodGroup < out[j].BloodGroup
		}
		return out[i].Direction < out[j].Direction
	})
	return out, nil
}

func (s *InMemoryStore) Find(_ context.Context, scope models.Scope, id domain.RecordID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.byID[scope][id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, fmt.Errorf("ledger record %s not found: %w", id, sentinel.ErrNotFound)
}

func (s *InMemoryStore) ListByEntity(_ context.Context, scope models.Scope, entity domain.EntityID, dir models.Direction) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Record
	for _, r := range s.records[scope] {
		if r.Entity == entity && r.Direction == dir {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Confirm(_ context.Context, scope models.Scope, id domain.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[scope][id]
	if !ok {
		return fmt.Errorf("ledger record %s not found: %w", id, sentinel.ErrNotFound)
	}
	if r.Confirmed {
		return fmt.Errorf("ledger record %s already confirmed: %w", id, sentinel.ErrAlreadyUsed)
	}
	r.Confirmed = true
	return nil
}

func (s *InMemoryStore) FindByCorrelation(_ context.Context, scope models.Scope, corr domain.CorrelationID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records[scope] {
		if r.CorrelationID == corr {
			copied := *r
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("no %s-scope record for correlation %s: %w", scope, corr, sentinel.ErrNotFound)
}

func (s *InMemoryStore) FindCounterpart(_ context.Context, match CounterpartMatch) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.Record
	var bestDelta time.Duration
	for _, r := range s.records[match.Scope] {
		if r.Entity != match.Entity || r.BloodGroup != match.BloodGroup || r.Direction != match.Direction {
			continue
		}
		if r.Confirmed {
			continue
		}
		if !match.Counterparty.IsNil() && counterpartyFor(r, match.Scope) != match.Counterparty {
			continue
		}
		delta := r.CreatedAt.Sub(match.At)
		if delta < 0 {
			delta = -delta
		}
		if delta > match.Window {
			continue
		}
		if best == nil || delta < bestDelta {
			best = r
			bestDelta = delta
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no counterpart within window: %w", sentinel.ErrNotFound)
	}
	copied := *best
	return &copied, nil
}

// counterpartyFor picks the field the heuristic join compares against:
// an organisation-scope leg points back at the donating user, a
// user-scope leg at the organisation, a hospital-scope leg at the
// organisation that supplied it.
func counterpartyFor(r *models.Record, scope models.Scope) domain.EntityID {
	switch scope {
	case models.ScopeOrganisation:
		return r.User
	case models.ScopeUser:
		return r.Organisation
	case models.ScopeHospital:
		return r.Organisation
	}
	return domain.EntityID{}
}

// append assumes the caller holds the write lock.
func (s *InMemoryStore) append(record *models.Record) {
	copied := *record
	s.records[record.Scope] = append(s.records[record.Scope], &copied)
	s.byID[record.Scope][record.ID] = &copied
}

// sumLocked assumes the caller holds at least the read lock.
func (s *InMemoryStore) sumLocked(scope models.Scope, entity domain.EntityID, bg domain.BloodGroup, dir models.Direction) int64 {
	var total int64
	for _, r := range s.records[scope] {
		if r.Entity == entity && r.BloodGroup == bg && r.Direction == dir {
			total += r.Quantity
		}
	}
	return total
}
