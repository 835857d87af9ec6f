// Package service implements the ledger operations: recording donations,
// transfers, and dispenses as paired append-only records, confirming
// collection, and deriving available stock.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bloodbridge/internal/ledger/models"
	"bloodbridge/internal/ledger/store"
	"bloodbridge/internal/notify"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/internal/platform/middleware"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
	"bloodbridge/pkg/email"
	"bloodbridge/pkg/platform/audit"
	"bloodbridge/pkg/platform/sentinel"
	"bloodbridge/pkg/platform/tx"
)

// CorrelationWindow bounds the heuristic join between the two legs of a
// transfer recorded without a correlation ID. Legacy behavior; paired
// writes now share an explicit correlation ID and only fall back to the
// window match.
const CorrelationWindow = 5 * time.Minute

const notifyTimeout = 10 * time.Second

// Entity is the identity projection the ledger needs: who an ID belongs
// to and how to reach them.
type Entity struct {
	ID    domain.EntityID
	Role  domain.Role
	Name  string
	Email string
}

// EntityResolver resolves entity IDs to role-bearing entities. Returns
// sentinel.ErrNotFound (possibly wrapped) for unknown IDs.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, id domain.EntityID) (*Entity, error)
}

// Service coordinates ledger writes with entity resolution, audit, and
// notifications.
type Service struct {
	store    store.Store
	resolver EntityResolver
	runner   tx.Runner
	audit    *audit.Publisher
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func New(
	st store.Store,
	resolver EntityResolver,
	runner tx.Runner,
	auditPublisher *audit.Publisher,
	notifier notify.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    st,
		resolver: resolver,
		runner:   runner,
		audit:    auditPublisher,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Tests use this to place records
// inside or outside the correlation window deterministically.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// DonateInput records a donor giving blood to an organisation.
type DonateInput struct {
	Donor        domain.EntityID
	Organisation domain.EntityID
	BloodGroup   domain.BloodGroup
	Quantity     int64
}

// TransferResult reports the two legs written for one transfer.
type TransferResult struct {
	CorrelationID domain.CorrelationID `json:"correlation_id"`
	SourceRecord  domain.RecordID      `json:"source_record"`
	DestRecord    domain.RecordID      `json:"dest_record"`
}

// Donate appends the donor-side and organisation-side legs of a donation
// as one atomic pair, then notifies the donor best-effort.
func (s *Service) Donate(ctx context.Context, in DonateInput) (*TransferResult, error) {
	if err := validateQuantityAndGroup(in.Quantity, in.BloodGroup); err != nil {
		return nil, err
	}
	donor, err := s.resolveRole(ctx, in.Donor, domain.RoleDonor)
	if err != nil {
		return nil, err
	}
	org, err := s.resolveRole(ctx, in.Organisation, domain.RoleOrganisation)
	if err != nil {
		return nil, err
	}

	now := s.now()
	corr := domain.NewCorrelationID()
	userLeg := &models.Record{
		ID:            domain.NewRecordID(),
		Scope:         models.ScopeUser,
		Direction:     models.DirectionOut,
		BloodGroup:    in.BloodGroup,
		Quantity:      in.Quantity,
		Entity:        donor.ID,
		Organisation:  org.ID,
		CorrelationID: corr,
		CreatedAt:     now,
	}
	orgLeg := &models.Record{
		ID:            domain.NewRecordID(),
		Scope:         models.ScopeOrganisation,
		Direction:     models.DirectionIn,
		BloodGroup:    in.BloodGroup,
		Quantity:      in.Quantity,
		Entity:        org.ID,
		User:          donor.ID,
		CorrelationID: corr,
		CreatedAt:     now,
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.AppendPair(ctx, userLeg, orgLeg); err != nil {
			return err
		}
		return s.audit.Emit(ctx, audit.Event{
			Action:        audit.ActionDonationRecorded,
			Entity:        donor.ID,
			Counterparty:  org.ID,
			BloodGroup:    in.BloodGroup,
			Quantity:      in.Quantity,
			CorrelationID: corr,
			RequestID:     middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		return nil, translateStoreErr(err, "record donation")
	}

	s.metrics.DonationsRecorded.Inc()
	s.notifyAsync(ctx, donor, "Thank you for your donation",
		"your donation has been recorded and is awaiting collection by the organisation.")

	return &TransferResult{CorrelationID: corr, SourceRecord: userLeg.ID, DestRecord: orgLeg.ID}, nil
}

// TransferInput records an organisation releasing stock to a hospital.
type TransferInput struct {
	Organisation domain.EntityID
	Hospital     domain.EntityID
	BloodGroup   domain.BloodGroup
	Quantity     int64
}

// Transfer moves stock org to hospital. The stock check and the paired
// append run as one atomic unit so two concurrent transfers cannot both
// pass the check against a stale total.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	if err := validateQuantityAndGroup(in.Quantity, in.BloodGroup); err != nil {
		return nil, err
	}
	org, err := s.resolveRole(ctx, in.Organisation, domain.RoleOrganisation)
	if err != nil {
		s.countRejection(err)
		return nil, err
	}
	hospital, err := s.resolveRole(ctx, in.Hospital, domain.RoleHospital)
	if err != nil {
		s.countRejection(err)
		return nil, err
	}

	now := s.now()
	corr := domain.NewCorrelationID()
	orgLeg := &models.Record{
		ID:            domain.NewRecordID(),
		Scope:         models.ScopeOrganisation,
		Direction:     models.DirectionOut,
		BloodGroup:    in.BloodGroup,
		Quantity:      in.Quantity,
		Entity:        org.ID,
		Hospital:      hospital.ID,
		CorrelationID: corr,
		CreatedAt:     now,
	}
	hospitalLeg := &models.Record{
		ID:            domain.NewRecordID(),
		Scope:         models.ScopeHospital,
		Direction:     models.DirectionIn,
		BloodGroup:    in.BloodGroup,
		Quantity:      in.Quantity,
		Entity:        hospital.ID,
		Organisation:  org.ID,
		CorrelationID: corr,
		CreatedAt:     now,
	}
	guard := store.Guard{
		Scope:      models.ScopeOrganisation,
		Entity:     org.ID,
		BloodGroup: in.BloodGroup,
		Quantity:   in.Quantity,
	}

	if err := s.appendGuardedPair(ctx, guard, orgLeg, hospitalLeg, audit.Event{
		Action:        audit.ActionTransferRecorded,
		Entity:        org.ID,
		Counterparty:  hospital.ID,
		BloodGroup:    in.BloodGroup,
		Quantity:      in.Quantity,
		CorrelationID: corr,
	}); err != nil {
		return nil, err
	}

	s.metrics.TransfersRecorded.Inc()
	return &TransferResult{CorrelationID: corr, SourceRecord: orgLeg.ID, DestRecord: hospitalLeg.ID}, nil
}

// DispenseInput records a hospital releasing stock to a recipient.
type DispenseInput struct {
	Hospital   domain.EntityID
	Recipient  domain.EntityID
	BloodGroup domain.BloodGroup
	Quantity   int64
}

// Dispense moves stock hospital to recipient with the same guarded
// append discipline as Transfer.
func (s *Service) Dispense(ctx context.Context, in DispenseInput) (*TransferResult, error) {
	if err := validateQuantityAndGroup(in.Quantity, in.BloodGroup); err != nil {
		return nil, err
	}
	hospital, err := s.resolveRole(ctx, in.Hospital, domain.RoleHospital)
	if err != nil {
		s.countRejection(err)
		return nil, err
	}
	recipient, err := s.resolveRole(ctx, in.Recipient, domain.RoleDonor)
	if err != nil {
		s.countRejection(err)
		return nil, err
	}

	now := s.now()
	corr := domain.NewCorrelationID()
	hospitalLeg := &models.Record{
		ID:            domain.NewRecordID(),
		Scope:         models.ScopeHospital,
		Direction:     models.DirectionOut,
		BloodGroup:    in.BloodGroup,
		Quantity:      in.Quantity,
		Entity:        hospital.ID,
		User:          recipient.ID,
		CorrelationID: corr,
		CreatedAt:     now,
	}
	userLeg := &models.Record{
		ID:            domain.NewRecordID(),
		Scope:         models.ScopeUser,
		Direction:     models.DirectionIn,
		BloodGroup:    in.BloodGroup,
		Quantity:      in.Quantity,
		Entity:        recipient.ID,
		Hospital:      hospital.ID,
		CorrelationID: corr,
		CreatedAt:     now,
	}
	guard := store.Guard{
		Scope:      models.ScopeHospital,
		Entity:     hospital.ID,
		BloodGroup: in.BloodGroup,
		Quantity:   in.Quantity,
	}

	if err := s.appendGuardedPair(ctx, guard, hospitalLeg, userLeg, audit.Event{
		Action:        audit.ActionDispenseRecorded,
		Entity:        hospital.ID,
		Counterparty:  recipient.ID,
		BloodGroup:    in.BloodGroup,
		Quantity:      in.Quantity,
		CorrelationID: corr,
	}); err != nil {
		return nil, err
	}

	s.metrics.DispensesRecorded.Inc()
	s.notifyAsync(ctx, recipient, "Blood dispensed",
		"a dispense of blood in your name has been recorded. Please confirm receipt with the hospital.")

	return &TransferResult{CorrelationID: corr, SourceRecord: hospitalLeg.ID, DestRecord: userLeg.ID}, nil
}

// appendGuardedPair runs the guarded pair append plus its audit event in
// one transaction and translates guard rejections into coded errors.
func (s *Service) appendGuardedPair(ctx context.Context, guard store.Guard, first, second *models.Record, event audit.Event) error {
	var available int64
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var appendErr error
		available, appendErr = s.store.AppendPairGuarded(ctx, guard, first, second)
		if appendErr != nil {
			return appendErr
		}
		event.RequestID = middleware.GetRequestID(ctx)
		return s.audit.Emit(ctx, event)
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			s.metrics.TransferRejections.WithLabelValues("insufficient_stock").Inc()
			s.auditRejection(ctx, event, "insufficient_stock")
			return dErrors.Newf(dErrors.CodeInsufficientStock,
				"insufficient %s stock: requested %d ml, available %d ml",
				guard.BloodGroup, guard.Quantity, available).
				WithDetail("available", available)
		}
		return translateStoreErr(err, "record transfer")
	}
	return nil
}

// auditRejection records rejected attempts outside the failed transaction.
func (s *Service) auditRejection(ctx context.Context, event audit.Event, reason string) {
	event.Action = audit.ActionTransferRejected
	event.Reason = reason
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to audit rejection", "error", err)
	}
}

func (s *Service) countRejection(err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeRoleMismatch:
		s.metrics.TransferRejections.WithLabelValues("role_mismatch").Inc()
	case dErrors.CodeNotFound:
		s.metrics.TransferRejections.WithLabelValues("not_found").Inc()
	}
}

func (s *Service) resolveRole(ctx context.Context, id domain.EntityID, want domain.Role) (*Entity, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "missing entity id")
	}
	entity, err := s.resolver.ResolveEntity(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "entity %s does not exist", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "resolve entity")
	}
	if entity.Role != want {
		return nil, dErrors.Newf(dErrors.CodeRoleMismatch,
			"entity %s has role %s, expected %s", id, entity.Role, want)
	}
	return entity, nil
}

func validateQuantityAndGroup(quantity int64, bg domain.BloodGroup) error {
	if quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be a positive number of millilitres")
	}
	if !bg.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown blood group %q", bg)
	}
	return nil
}

// translateStoreErr maps sentinel and infrastructure errors from the
// store into the coded taxonomy. Coded errors pass through unchanged.
func translateStoreErr(err error, op string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, op+": record not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeAlreadyProcessed, op+": already processed")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, op+": conflict")
	default:
		return dErrors.Wrap(err, dErrors.CodeDependency, op+": store failure")
	}
}

// notifyAsync dispatches a notification without blocking or failing the
// ledger write that triggered it.
func (s *Service) notifyAsync(ctx context.Context, to *Entity, subject, body string) {
	if to.Email == "" {
		return
	}
	name := to.Name
	if name == "" {
		first, _ := email.DeriveNameFromEmail(to.Email)
		name = first
	}
	requestID := middleware.GetRequestID(ctx)
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, notifyTimeout)
		defer cancel()
		msg := "Hello " + name + ",\n\n" + body + "\n\nBlood Bridge"
		if err := s.notifier.Send(ctx, to.Email, subject, msg); err != nil {
			s.logger.WarnContext(ctx, "notification failed",
				"to", to.Email,
				"subject", subject,
				"error", err,
				"request_id", requestID,
			)
		}
	}()
}
