package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bloodbridge/internal/ledger/models"
	"bloodbridge/internal/ledger/store"
	"bloodbridge/internal/notify"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
	"bloodbridge/pkg/platform/audit"
	auditmemory "bloodbridge/pkg/platform/audit/store/memory"
	"bloodbridge/pkg/platform/sentinel"
	"bloodbridge/pkg/platform/tx"
)

// testMetrics is shared because promauto registers against the default
// registry; registering twice in one process panics.
var testMetrics = metrics.New()

type stubResolver struct {
	entities map[domain.EntityID]*Entity
}

func (r *stubResolver) ResolveEntity(_ context.Context, id domain.EntityID) (*Entity, error) {
	if e, ok := r.entities[id]; ok {
		return e, nil
	}
	return nil, sentinel.ErrNotFound
}

func (r *stubResolver) add(role domain.Role) domain.EntityID {
	id := domain.NewEntityID()
	r.entities[id] = &Entity{ID: id, Role: role, Name: "Test " + string(role), Email: string(role) + "@example.com"}
	return id
}

type LedgerServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *store.InMemoryStore
	resolver *stubResolver
	events   *auditmemory.Store
	service  *Service

	donor    domain.EntityID
	org      domain.EntityID
	hospital domain.EntityID
}

func (s *LedgerServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewInMemoryStore()
	s.resolver = &stubResolver{entities: make(map[domain.EntityID]*Entity)}
	s.events = auditmemory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.service = New(
		s.store,
		s.resolver,
		tx.NewInProcess(),
		audit.NewPublisher(s.events),
		notify.NewLogNotifier(logger),
		testMetrics,
		logger,
	)

	s.donor = s.resolver.add(domain.RoleDonor)
	s.org = s.resolver.add(domain.RoleOrganisation)
	s.hospital = s.resolver.add(domain.RoleHospital)
}

func TestLedgerServiceSuite(t *testing.T) {
	suite.Run(t, new(LedgerServiceSuite))
}

func (s *LedgerServiceSuite) donate(quantity int64) *TransferResult {
	result, err := s.service.Donate(s.ctx, DonateInput{
		Donor:        s.donor,
		Organisation: s.org,
		BloodGroup:   domain.BloodGroupOPos,
		Quantity:     quantity,
	})
	s.Require().NoError(err)
	return result
}

func (s *LedgerServiceSuite) available(scope models.Scope, entity domain.EntityID) int64 {
	available, err := s.service.Available(s.ctx, scope, entity, domain.BloodGroupOPos)
	s.Require().NoError(err)
	return available
}

// TestDonation covers the donor-to-organisation flow.
func (s *LedgerServiceSuite) TestDonation() {
	s.Run("writes both legs and raises organisation stock", func() {
		result := s.donate(1000)
		s.False(result.CorrelationID.IsNil())

		s.Equal(int64(1000), s.available(models.ScopeOrganisation, s.org))

		// Both legs share the correlation ID.
		userLeg, err := s.store.FindByCorrelation(s.ctx, models.ScopeUser, result.CorrelationID)
		s.Require().NoError(err)
		orgLeg, err := s.store.FindByCorrelation(s.ctx, models.ScopeOrganisation, result.CorrelationID)
		s.Require().NoError(err)
		s.Equal(models.DirectionOut, userLeg.Direction)
		s.Equal(models.DirectionIn, orgLeg.Direction)
		s.False(userLeg.Confirmed)
		s.False(orgLeg.Confirmed)
	})

	s.Run("conservation holds between scopes", func() {
		s.donate(500)
		orgIn, err := s.store.SumAll(s.ctx, models.ScopeOrganisation, domain.BloodGroupOPos, models.DirectionIn)
		s.Require().NoError(err)
		userOut, err := s.store.SumAll(s.ctx, models.ScopeUser, domain.BloodGroupOPos, models.DirectionOut)
		s.Require().NoError(err)
		s.Equal(orgIn, userOut)
	})

	s.Run("rejects unknown donor", func() {
		_, err := s.service.Donate(s.ctx, DonateInput{
			Donor:        domain.NewEntityID(),
			Organisation: s.org,
			BloodGroup:   domain.BloodGroupOPos,
			Quantity:     100,
		})
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})

	s.Run("rejects role mismatch", func() {
		_, err := s.service.Donate(s.ctx, DonateInput{
			Donor:        s.hospital,
			Organisation: s.org,
			BloodGroup:   domain.BloodGroupOPos,
			Quantity:     100,
		})
		s.Equal(dErrors.CodeRoleMismatch, dErrors.CodeOf(err))
	})

	s.Run("rejects non-positive quantity", func() {
		_, err := s.service.Donate(s.ctx, DonateInput{
			Donor:        s.donor,
			Organisation: s.org,
			BloodGroup:   domain.BloodGroupOPos,
			Quantity:     0,
		})
		s.Equal(dErrors.CodeValidation, dErrors.CodeOf(err))
	})

	s.Run("rejects unknown blood group", func() {
		_, err := s.service.Donate(s.ctx, DonateInput{
			Donor:        s.donor,
			Organisation: s.org,
			BloodGroup:   "Q+",
			Quantity:     100,
		})
		s.Equal(dErrors.CodeValidation, dErrors.CodeOf(err))
	})
}

// TestTransfer covers the organisation-to-hospital flow with the stock
// guard.
func (s *LedgerServiceSuite) TestTransfer() {
	s.donate(1000)

	s.Run("rejects over-withdrawal and reports available amount", func() {
		_, err := s.service.Transfer(s.ctx, TransferInput{
			Organisation: s.org,
			Hospital:     s.hospital,
			BloodGroup:   domain.BloodGroupOPos,
			Quantity:     2500,
		})
		s.Require().Equal(dErrors.CodeInsufficientStock, dErrors.CodeOf(err))
		s.Equal(int64(1000), dErrors.DetailsOf(err)["available"])

		// Nothing was written.
		s.Equal(int64(1000), s.available(models.ScopeOrganisation, s.org))
		s.Zero(s.available(models.ScopeHospital, s.hospital))
	})

	s.Run("moves stock between scopes", func() {
		_, err := s.service.Transfer(s.ctx, TransferInput{
			Organisation: s.org,
			Hospital:     s.hospital,
			BloodGroup:   domain.BloodGroupOPos,
			Quantity:     1000,
		})
		s.Require().NoError(err)

		s.Zero(s.available(models.ScopeOrganisation, s.org))
		s.Equal(int64(1000), s.available(models.ScopeHospital, s.hospital))
	})

	s.Run("availability never goes negative", func() {
		_, err := s.service.Transfer(s.ctx, TransferInput{
			Organisation: s.org,
			Hospital:     s.hospital,
			BloodGroup:   domain.BloodGroupOPos,
			Quantity:     1,
		})
		s.Require().Equal(dErrors.CodeInsufficientStock, dErrors.CodeOf(err))
		s.GreaterOrEqual(s.available(models.ScopeOrganisation, s.org), int64(0))
	})
}

// TestDispense covers the hospital-to-recipient flow.
func (s *LedgerServiceSuite) TestDispense() {
	s.donate(800)
	_, err := s.service.Transfer(s.ctx, TransferInput{
		Organisation: s.org,
		Hospital:     s.hospital,
		BloodGroup:   domain.BloodGroupOPos,
		Quantity:     800,
	})
	s.Require().NoError(err)

	s.Run("moves stock to the recipient scope", func() {
		result, err := s.service.Dispense(s.ctx, DispenseInput{
			Hospital:   s.hospital,
			Recipient:  s.donor,
			BloodGroup: domain.BloodGroupOPos,
			Quantity:   300,
		})
		s.Require().NoError(err)
		s.False(result.CorrelationID.IsNil())

		s.Equal(int64(500), s.available(models.ScopeHospital, s.hospital))

		received, err := s.store.Sum(s.ctx, models.ScopeUser, s.donor, domain.BloodGroupOPos, models.DirectionIn)
		s.Require().NoError(err)
		s.Equal(int64(300), received)
	})

	s.Run("guards hospital stock", func() {
		_, err := s.service.Dispense(s.ctx, DispenseInput{
			Hospital:   s.hospital,
			Recipient:  s.donor,
			BloodGroup: domain.BloodGroupOPos,
			Quantity:   9000,
		})
		s.Equal(dErrors.CodeInsufficientStock, dErrors.CodeOf(err))
	})
}

// TestCollect covers the collection state machine.
func (s *LedgerServiceSuite) TestCollect() {
	s.Run("confirms both legs through the correlation id", func() {
		result := s.donate(400)
		userLeg, err := s.store.FindByCorrelation(s.ctx, models.ScopeUser, result.CorrelationID)
		s.Require().NoError(err)

		collected, err := s.service.Collect(s.ctx, CollectInput{UserRecord: userLeg.ID})
		s.Require().NoError(err)
		s.True(collected.UserConfirmed)
		s.True(collected.OrgConfirmed)
		s.False(collected.OrgPending)

		orgLeg, err := s.store.FindByCorrelation(s.ctx, models.ScopeOrganisation, result.CorrelationID)
		s.Require().NoError(err)
		s.True(orgLeg.Confirmed)
	})

	s.Run("second collect on the same record is rejected", func() {
		result := s.donate(400)
		userLeg, err := s.store.FindByCorrelation(s.ctx, models.ScopeUser, result.CorrelationID)
		s.Require().NoError(err)

		_, err = s.service.Collect(s.ctx, CollectInput{UserRecord: userLeg.ID})
		s.Require().NoError(err)

		_, err = s.service.Collect(s.ctx, CollectInput{UserRecord: userLeg.ID})
		s.Equal(dErrors.CodeAlreadyProcessed, dErrors.CodeOf(err))
	})

	s.Run("requires at least one record id", func() {
		_, err := s.service.Collect(s.ctx, CollectInput{})
		s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
	})

	s.Run("unknown record id reports not found", func() {
		_, err := s.service.Collect(s.ctx, CollectInput{UserRecord: domain.NewRecordID()})
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})
}

// TestCollectLegacyRecords covers records written before correlation IDs
// existed, which rely on the time-window heuristic.
func (s *LedgerServiceSuite) TestCollectLegacyRecords() {
	base := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	legacyUserLeg := func(at time.Time) *models.Record {
		r := &models.Record{
			ID:           domain.NewRecordID(),
			Scope:        models.ScopeUser,
			Direction:    models.DirectionOut,
			BloodGroup:   domain.BloodGroupAPos,
			Quantity:     450,
			Entity:       s.donor,
			Organisation: s.org,
			CreatedAt:    at,
		}
		s.Require().NoError(s.store.Append(s.ctx, r))
		return r
	}
	legacyOrgLeg := func(at time.Time) *models.Record {
		r := &models.Record{
			ID:         domain.NewRecordID(),
			Scope:      models.ScopeOrganisation,
			Direction:  models.DirectionIn,
			BloodGroup: domain.BloodGroupAPos,
			Quantity:   450,
			Entity:     s.org,
			User:       s.donor,
			CreatedAt:  at,
		}
		s.Require().NoError(s.store.Append(s.ctx, r))
		return r
	}

	s.Run("matches the counterpart inside the window", func() {
		userLeg := legacyUserLeg(base)
		orgLeg := legacyOrgLeg(base.Add(3 * time.Minute))

		result, err := s.service.Collect(s.ctx, CollectInput{UserRecord: userLeg.ID})
		s.Require().NoError(err)
		s.True(result.UserConfirmed)
		s.True(result.OrgConfirmed)

		found, err := s.store.Find(s.ctx, models.ScopeOrganisation, orgLeg.ID)
		s.Require().NoError(err)
		s.True(found.Confirmed)
	})

	s.Run("leaves the organisation side pending outside the window", func() {
		userLeg := legacyUserLeg(base.Add(time.Hour))
		orgLeg := legacyOrgLeg(base.Add(time.Hour + 10*time.Minute))

		result, err := s.service.Collect(s.ctx, CollectInput{UserRecord: userLeg.ID})
		s.Require().NoError(err)
		s.True(result.UserConfirmed)
		s.False(result.OrgConfirmed)
		s.True(result.OrgPending)

		found, err := s.store.Find(s.ctx, models.ScopeOrganisation, orgLeg.ID)
		s.Require().NoError(err)
		s.False(found.Confirmed)
	})
}

// TestAvailabilityReport verifies the fixed eight-group shape.
func (s *LedgerServiceSuite) TestAvailabilityReport() {
	s.donate(600)

	report, err := s.service.EntityAvailability(s.ctx, models.ScopeOrganisation, s.org)
	s.Require().NoError(err)
	s.Require().Len(report, 8)

	byGroup := make(map[domain.BloodGroup]models.Availability, len(report))
	for _, row := range report {
		byGroup[row.BloodGroup] = row
	}
	s.Equal(int64(600), byGroup[domain.BloodGroupOPos].Available)
	for _, bg := range domain.AllBloodGroups() {
		s.Contains(byGroup, bg)
		if bg != domain.BloodGroupOPos {
			s.Zero(byGroup[bg].Available)
		}
	}
}

// TestListings verifies the counterparty directory views.
func (s *LedgerServiceSuite) TestListings() {
	s.donate(500)
	_, err := s.service.Transfer(s.ctx, TransferInput{
		Organisation: s.org,
		Hospital:     s.hospital,
		BloodGroup:   domain.BloodGroupOPos,
		Quantity:     200,
	})
	s.Require().NoError(err)

	donors, err := s.service.DonorsOfOrganisation(s.ctx, s.org)
	s.Require().NoError(err)
	s.Require().Len(donors, 1)
	s.Equal(s.donor, donors[0].ID)

	hospitals, err := s.service.HospitalsOfOrganisation(s.ctx, s.org)
	s.Require().NoError(err)
	s.Require().Len(hospitals, 1)
	s.Equal(s.hospital, hospitals[0].ID)

	orgs, err := s.service.OrganisationsOfHospital(s.ctx, s.hospital)
	s.Require().NoError(err)
	s.Require().Len(orgs, 1)
	s.Equal(s.org, orgs[0].ID)
}

// TestAuditTrail verifies the key actions are recorded.
func (s *LedgerServiceSuite) TestAuditTrail() {
	s.donate(500)
	_, err := s.service.Transfer(s.ctx, TransferInput{
		Organisation: s.org,
		Hospital:     s.hospital,
		BloodGroup:   domain.BloodGroupOPos,
		Quantity:     100,
	})
	s.Require().NoError(err)

	actions := make([]audit.Action, 0)
	for _, e := range s.events.Events() {
		actions = append(actions, e.Action)
	}
	s.Contains(actions, audit.ActionDonationRecorded)
	s.Contains(actions, audit.ActionTransferRecorded)
}
