package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"bloodbridge/internal/ledger/models"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
)

// Available derives current stock for one (entity, blood group) pair.
// Always recomputed from the full record set; never cached. A negative
// result means a write bypassed the guarded append and is logged as a
// consistency violation.
func (s *Service) Available(ctx context.Context, scope models.Scope, entity domain.EntityID, bg domain.BloodGroup) (int64, error) {
	if !bg.Valid() {
		return 0, dErrors.Newf(dErrors.CodeValidation, "unknown blood group %q", bg)
	}
	in, err := s.store.Sum(ctx, scope, entity, bg, models.DirectionIn)
	if err != nil {
		return 0, translateStoreErr(err, "sum inflow")
	}
	out, err := s.store.Sum(ctx, scope, entity, bg, models.DirectionOut)
	if err != nil {
		return 0, translateStoreErr(err, "sum outflow")
	}
	available := in - out
	if available < 0 {
		s.logger.ErrorContext(ctx, "negative derived stock",
			"scope", string(scope),
			"entity", entity.String(),
			"blood_group", string(bg),
			"available", available,
		)
	}
	return available, nil
}

// EntityAvailability reports all eight blood groups for one entity,
// zero-defaulted, fanned out per group.
func (s *Service) EntityAvailability(ctx context.Context, scope models.Scope, entity domain.EntityID) ([]models.Availability, error) {
	groups := domain.AllBloodGroups()
	report := make([]models.Availability, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	for i, bg := range groups {
		g.Go(func() error {
			in, err := s.store.Sum(ctx, scope, entity, bg, models.DirectionIn)
			if err != nil {
				return err
			}
			out, err := s.store.Sum(ctx, scope, entity, bg, models.DirectionOut)
			if err != nil {
				return err
			}
			report[i] = models.Availability{
				BloodGroup: bg,
				TotalIn:    in,
				TotalOut:   out,
				Available:  in - out,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, translateStoreErr(err, "aggregate availability")
	}
	return report, nil
}

// ListRecords returns the records of one scope owner and direction,
// newest first.
func (s *Service) ListRecords(ctx context.Context, scope models.Scope, entity domain.EntityID, dir models.Direction) ([]*models.Record, error) {
	if !scope.Valid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "invalid ledger scope %q", scope)
	}
	if !dir.Valid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "invalid direction %q", dir)
	}
	records, err := s.store.ListByEntity(ctx, scope, entity, dir)
	if err != nil {
		return nil, translateStoreErr(err, "list records")
	}
	return records, nil
}

// DonorsOfOrganisation lists the distinct donors whose blood an
// organisation has received.
func (s *Service) DonorsOfOrganisation(ctx context.Context, org domain.EntityID) ([]*Entity, error) {
	records, err := s.store.ListByEntity(ctx, models.ScopeOrganisation, org, models.DirectionIn)
	if err != nil {
		return nil, translateStoreErr(err, "list donors")
	}
	return s.resolveDistinct(ctx, records, func(r *models.Record) domain.EntityID { return r.User })
}

// HospitalsOfOrganisation lists the distinct hospitals an organisation
// has released stock to.
func (s *Service) HospitalsOfOrganisation(ctx context.Context, org domain.EntityID) ([]*Entity, error) {
	records, err := s.store.ListByEntity(ctx, models.ScopeOrganisation, org, models.DirectionOut)
	if err != nil {
		return nil, translateStoreErr(err, "list hospitals")
	}
	return s.resolveDistinct(ctx, records, func(r *models.Record) domain.EntityID { return r.Hospital })
}

// RecipientsOfHospital lists the distinct recipients a hospital has
// dispensed to.
func (s *Service) RecipientsOfHospital(ctx context.Context, hospital domain.EntityID) ([]*Entity, error) {
	records, err := s.store.ListByEntity(ctx, models.ScopeHospital, hospital, models.DirectionOut)
	if err != nil {
		return nil, translateStoreErr(err, "list recipients")
	}
	return s.resolveDistinct(ctx, records, func(r *models.Record) domain.EntityID { return r.User })
}

// OrganisationsOfHospital lists the distinct organisations a hospital
// has received stock from.
func (s *Service) OrganisationsOfHospital(ctx context.Context, hospital domain.EntityID) ([]*Entity, error) {
	records, err := s.store.ListByEntity(ctx, models.ScopeHospital, hospital, models.DirectionIn)
	if err != nil {
		return nil, translateStoreErr(err, "list organisations")
	}
	return s.resolveDistinct(ctx, records, func(r *models.Record) domain.EntityID { return r.Organisation })
}

// resolveDistinct maps records to distinct counterparty entities,
// preserving first-seen order. Counterparties that no longer resolve
// (deleted accounts) are skipped rather than failing the listing.
func (s *Service) resolveDistinct(ctx context.Context, records []*models.Record, pick func(*models.Record) domain.EntityID) ([]*Entity, error) {
	seen := make(map[domain.EntityID]struct{}, len(records))
	entities := make([]*Entity, 0, len(records))
	for _, r := range records {
		id := pick(r)
		if id.IsNil() {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		entity, err := s.resolver.ResolveEntity(ctx, id)
		if err != nil {
			continue
		}
		entities = append(entities, entity)
	}
	return entities, nil
}
