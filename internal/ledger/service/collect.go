package service

import (
	"context"
	"errors"

	"bloodbridge/internal/ledger/models"
	"bloodbridge/internal/ledger/store"
	"bloodbridge/internal/platform/middleware"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
	"bloodbridge/pkg/platform/audit"
	"bloodbridge/pkg/platform/sentinel"
)

// CollectInput identifies a donation to confirm. At least one side must
// be set; the other is located through the correlation ID or, for
// records written without one, the time-window heuristic.
type CollectInput struct {
	UserRecord domain.RecordID
	OrgRecord  domain.RecordID
}

// CollectResult reports which flags actually flipped. OrgPending means
// the donor-side flag flipped but no organisation-side counterpart could
// be located; that leg stays pending until a later match or manual
// reconciliation.
type CollectResult struct {
	UserConfirmed bool `json:"user_confirmed"`
	OrgConfirmed  bool `json:"org_confirmed"`
	OrgPending    bool `json:"org_pending"`
	UserPending   bool `json:"user_pending"`
}

// Collect flips the collection/receipt flags for a donation. Explicitly
// named records reject with AlreadyProcessed when their flag is already
// set; a counterpart located automatically is skipped silently if some
// earlier call already confirmed it. Both flips run in one transaction.
func (s *Service) Collect(ctx context.Context, in CollectInput) (*CollectResult, error) {
	if in.UserRecord.IsNil() && in.OrgRecord.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "at least one record id is required")
	}

	var userLeg, orgLeg *models.Record
	var err error

	if !in.UserRecord.IsNil() {
		userLeg, err = s.findExplicit(ctx, models.ScopeUser, in.UserRecord)
		if err != nil {
			return nil, err
		}
	}
	if !in.OrgRecord.IsNil() {
		orgLeg, err = s.findExplicit(ctx, models.ScopeOrganisation, in.OrgRecord)
		if err != nil {
			return nil, err
		}
	}

	// Locate the missing side. A miss is not an error: partial
	// collection is a representable state.
	if userLeg != nil && orgLeg == nil && in.OrgRecord.IsNil() {
		orgLeg = s.locateCounterpart(ctx, userLeg)
	}
	if orgLeg != nil && userLeg == nil && in.UserRecord.IsNil() {
		userLeg = s.locateCounterpart(ctx, orgLeg)
	}

	result := &CollectResult{}
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if userLeg != nil {
			confirmed, err := s.confirmLeg(ctx, models.ScopeUser, userLeg.ID, !in.UserRecord.IsNil())
			if err != nil {
				return err
			}
			result.UserConfirmed = confirmed
		}
		if orgLeg != nil {
			confirmed, err := s.confirmLeg(ctx, models.ScopeOrganisation, orgLeg.ID, !in.OrgRecord.IsNil())
			if err != nil {
				return err
			}
			result.OrgConfirmed = confirmed
		}

		anchor := userLeg
		if anchor == nil {
			anchor = orgLeg
		}
		return s.audit.Emit(ctx, audit.Event{
			Action:        audit.ActionDonationCollected,
			Entity:        anchor.Entity,
			BloodGroup:    anchor.BloodGroup,
			Quantity:      anchor.Quantity,
			CorrelationID: anchor.CorrelationID,
			RequestID:     middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	result.OrgPending = orgLeg == nil
	result.UserPending = userLeg == nil
	s.metrics.CollectionsConfirmed.Inc()
	return result, nil
}

func (s *Service) findExplicit(ctx context.Context, scope models.Scope, id domain.RecordID) (*models.Record, error) {
	record, err := s.store.Find(ctx, scope, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "%s record %s does not exist", scope, id)
		}
		return nil, translateStoreErr(err, "find record")
	}
	if record.Confirmed {
		return nil, dErrors.Newf(dErrors.CodeAlreadyProcessed,
			"%s record %s is already confirmed", scope, id)
	}
	return record, nil
}

// locateCounterpart finds the other leg of a transfer, preferring the
// correlation ID and falling back to the time-window heuristic for
// records that predate correlated writes.
func (s *Service) locateCounterpart(ctx context.Context, leg *models.Record) *models.Record {
	otherScope := models.ScopeOrganisation
	otherDir := models.DirectionIn
	otherEntity := leg.Organisation
	if leg.Scope == models.ScopeOrganisation {
		otherScope = models.ScopeUser
		otherDir = models.DirectionOut
		otherEntity = leg.User
	}

	if !leg.CorrelationID.IsNil() {
		match, err := s.store.FindByCorrelation(ctx, otherScope, leg.CorrelationID)
		if err == nil {
			return match
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "counterpart lookup by correlation failed", "error", err)
			return nil
		}
	}

	if otherEntity.IsNil() {
		return nil
	}
	match, err := s.store.FindCounterpart(ctx, store.CounterpartMatch{
		Scope:        otherScope,
		Entity:       otherEntity,
		Counterparty: leg.Entity,
		BloodGroup:   leg.BloodGroup,
		Direction:    otherDir,
		At:           leg.CreatedAt,
		Window:       CorrelationWindow,
	})
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "counterpart window match failed", "error", err)
		}
		return nil
	}
	return match
}

// confirmLeg flips one flag. Explicitly requested legs propagate the
// already-used rejection; auto-matched legs tolerate it.
func (s *Service) confirmLeg(ctx context.Context, scope models.Scope, id domain.RecordID, explicit bool) (bool, error) {
	err := s.store.Confirm(ctx, scope, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		if explicit {
			return false, dErrors.Newf(dErrors.CodeAlreadyProcessed,
				"%s record %s is already confirmed", scope, id)
		}
		return false, nil
	}
	return false, translateStoreErr(err, "confirm record")
}
