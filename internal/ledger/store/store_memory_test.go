package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bloodbridge/internal/ledger/models"
	"bloodbridge/pkg/domain"
	"bloodbridge/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context

	org   domain.EntityID
	donor domain.EntityID
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.org = domain.NewEntityID()
	s.donor = domain.NewEntityID()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) orgIn(quantity int64, at time.Time) *models.Record {
	return &models.Record{
		ID:         domain.NewRecordID(),
		Scope:      models.ScopeOrganisation,
		Direction:  models.DirectionIn,
		BloodGroup: domain.BloodGroupOPos,
		Quantity:   quantity,
		Entity:     s.org,
		User:       s.donor,
		CreatedAt:  at,
	}
}

func (s *MemoryStoreSuite) orgOut(quantity int64, at time.Time) *models.Record {
	return &models.Record{
		ID:         domain.NewRecordID(),
		Scope:      models.ScopeOrganisation,
		Direction:  models.DirectionOut,
		BloodGroup: domain.BloodGroupOPos,
		Quantity:   quantity,
		Entity:     s.org,
		Hospital:   domain.NewEntityID(),
		CreatedAt:  at,
	}
}

func (s *MemoryStoreSuite) TestAppendAndSum() {
	now := time.Now()

	s.Run("sums by entity, group, and direction", func() {
		s.Require().NoError(s.store.Append(s.ctx, s.orgIn(500, now)))
		s.Require().NoError(s.store.Append(s.ctx, s.orgIn(250, now)))
		s.Require().NoError(s.store.Append(s.ctx, s.orgOut(100, now)))

		in, err := s.store.Sum(s.ctx, models.ScopeOrganisation, s.org, domain.BloodGroupOPos, models.DirectionIn)
		s.Require().NoError(err)
		s.Equal(int64(750), in)

		out, err := s.store.Sum(s.ctx, models.ScopeOrganisation, s.org, domain.BloodGroupOPos, models.DirectionOut)
		s.Require().NoError(err)
		s.Equal(int64(100), out)
	})

	s.Run("rejects invalid records", func() {
		bad := s.orgIn(0, now)
		s.Error(s.store.Append(s.ctx, bad))
	})
}

func (s *MemoryStoreSuite) TestGuardedAppend() {
	now := time.Now()
	s.Require().NoError(s.store.Append(s.ctx, s.orgIn(200, now)))

	s.Run("rejects withdrawals beyond available stock", func() {
		hospital := domain.NewEntityID()
		first := s.orgOut(500, now)
		second := &models.Record{
			ID:         domain.NewRecordID(),
			Scope:      models.ScopeHospital,
			Direction:  models.DirectionIn,
			BloodGroup: domain.BloodGroupOPos,
			Quantity:   500,
			Entity:     hospital,
			CreatedAt:  now,
		}
		guard := Guard{Scope: models.ScopeOrganisation, Entity: s.org, BloodGroup: domain.BloodGroupOPos, Quantity: 500}

		available, err := s.store.AppendPairGuarded(s.ctx, guard, first, second)
		s.Require().ErrorIs(err, ErrInsufficientStock)
		s.Equal(int64(200), available)

		// Nothing was written on either side.
		in, err := s.store.Sum(s.ctx, models.ScopeHospital, hospital, domain.BloodGroupOPos, models.DirectionIn)
		s.Require().NoError(err)
		s.Zero(in)
	})

	s.Run("concurrent withdrawals never overdraw", func() {
		const workers = 20
		var wg sync.WaitGroup
		var succeeded atomic.Int32
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hospital := domain.NewEntityID()
				first := s.orgOut(50, now)
				second := &models.Record{
					ID:         domain.NewRecordID(),
					Scope:      models.ScopeHospital,
					Direction:  models.DirectionIn,
					BloodGroup: domain.BloodGroupOPos,
					Quantity:   50,
					Entity:     hospital,
					CreatedAt:  now,
				}
				guard := Guard{Scope: models.ScopeOrganisation, Entity: s.org, BloodGroup: domain.BloodGroupOPos, Quantity: 50}
				if _, err := s.store.AppendPairGuarded(s.ctx, guard, first, second); err == nil {
					succeeded.Add(1)
				}
			}()
		}
		wg.Wait()

		// 200 ml available, 50 ml per withdrawal: exactly 4 can win.
		s.Equal(int32(4), succeeded.Load())

		in, err := s.store.Sum(s.ctx, models.ScopeOrganisation, s.org, domain.BloodGroupOPos, models.DirectionIn)
		s.Require().NoError(err)
		out, err := s.store.Sum(s.ctx, models.ScopeOrganisation, s.org, domain.BloodGroupOPos, models.DirectionOut)
		s.Require().NoError(err)
		s.GreaterOrEqual(in-out, int64(0))
	})
}

func (s *MemoryStoreSuite) TestConfirm() {
	now := time.Now()
	record := s.orgIn(100, now)
	s.Require().NoError(s.store.Append(s.ctx, record))

	s.Run("flips the flag exactly once", func() {
		s.Require().NoError(s.store.Confirm(s.ctx, models.ScopeOrganisation, record.ID))

		found, err := s.store.Find(s.ctx, models.ScopeOrganisation, record.ID)
		s.Require().NoError(err)
		s.True(found.Confirmed)
	})

	s.Run("second confirm reports already used", func() {
		err := s.store.Confirm(s.ctx, models.ScopeOrganisation, record.ID)
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("unknown record reports not found", func() {
		err := s.store.Confirm(s.ctx, models.ScopeOrganisation, domain.NewRecordID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestFindCounterpart() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	near := s.orgIn(100, base.Add(2*time.Minute))
	far := s.orgIn(100, base.Add(4*time.Minute))
	s.Require().NoError(s.store.Append(s.ctx, near))
	s.Require().NoError(s.store.Append(s.ctx, far))

	match := CounterpartMatch{
		Scope:        models.ScopeOrganisation,
		Entity:       s.org,
		Counterparty: s.donor,
		BloodGroup:   domain.BloodGroupOPos,
		Direction:    models.DirectionIn,
		At:           base,
		Window:       5 * time.Minute,
	}

	s.Run("picks the closest unconfirmed record in the window", func() {
		found, err := s.store.FindCounterpart(s.ctx, match)
		s.Require().NoError(err)
		s.Equal(near.ID, found.ID)
	})

	s.Run("skips confirmed records", func() {
		s.Require().NoError(s.store.Confirm(s.ctx, models.ScopeOrganisation, near.ID))
		found, err := s.store.FindCounterpart(s.ctx, match)
		s.Require().NoError(err)
		s.Equal(far.ID, found.ID)
	})

	s.Run("misses outside the window", func() {
		outside := match
		outside.At = base.Add(-10 * time.Minute)
		_, err := s.store.FindCounterpart(s.ctx, outside)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("filters by counterparty", func() {
		other := match
		other.Counterparty = domain.NewEntityID()
		_, err := s.store.FindCounterpart(s.ctx, other)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestGroupTotals() {
	now := time.Now()
	s.Require().NoError(s.store.Append(s.ctx, s.orgIn(300, now)))
	s.Require().NoError(s.store.Append(s.ctx, s.orgIn(200, now)))
	s.Require().NoError(s.store.Append(s.ctx, s.orgOut(100, now)))

	totals, err := s.store.GroupTotals(s.ctx, models.ScopeOrganisation)
	s.Require().NoError(err)
	s.Len(totals, 2)

	byDir := make(map[models.Direction]int64)
	for _, t := range totals {
		s.Equal(s.org, t.Entity)
		s.Equal(domain.BloodGroupOPos, t.BloodGroup)
		byDir[t.Direction] = t.Total
	}
	s.Equal(int64(500), byDir[models.DirectionIn])
	s.Equal(int64(100), byDir[models.DirectionOut])
}
