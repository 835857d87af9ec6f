package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"bloodbridge/internal/ledger/models"
	ledgersvc "bloodbridge/internal/ledger/service"
	ledgerstore "bloodbridge/internal/ledger/store"
	"bloodbridge/internal/notify"
	"bloodbridge/internal/payment/signature"
	paymentstore "bloodbridge/internal/payment/store"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
	"bloodbridge/pkg/platform/audit"
	auditmemory "bloodbridge/pkg/platform/audit/store/memory"
	"bloodbridge/pkg/platform/sentinel"
	"bloodbridge/pkg/platform/tx"
)

const testSecret = "payment-test-secret"

var testMetrics = metrics.New()

type stubResolver struct {
	entities map[domain.EntityID]*ledgersvc.Entity
}

func (r *stubResolver) ResolveEntity(_ context.Context, id domain.EntityID) (*ledgersvc.Entity, error) {
	if e, ok := r.entities[id]; ok {
		return e, nil
	}
	return nil, sentinel.ErrNotFound
}

func (r *stubResolver) add(role domain.Role) domain.EntityID {
	id := domain.NewEntityID()
	r.entities[id] = &ledgersvc.Entity{ID: id, Role: role}
	return id
}

type PaymentServiceSuite struct {
	suite.Suite
	ctx      context.Context
	ledger   *ledgerstore.InMemoryStore
	payments *paymentstore.InMemoryStore
	service  *Service

	donor     domain.EntityID
	org       domain.EntityID
	hospital  domain.EntityID
	ledgerSvc *ledgersvc.Service
}

func (s *PaymentServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ledger = ledgerstore.NewInMemoryStore()
	s.payments = paymentstore.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := &stubResolver{entities: make(map[domain.EntityID]*ledgersvc.Entity)}
	runner := tx.NewInProcess()
	publisher := audit.NewPublisher(auditmemory.New())

	s.donor = resolver.add(domain.RoleDonor)
	s.org = resolver.add(domain.RoleOrganisation)
	s.hospital = resolver.add(domain.RoleHospital)

	s.ledgerSvc = ledgersvc.New(s.ledger, resolver, runner, publisher,
		notify.NewLogNotifier(logger), testMetrics, logger)
	s.service = New(s.payments, s.ledgerSvc, runner, publisher, testMetrics, logger, testSecret)
}

func TestPaymentServiceSuite(t *testing.T) {
	suite.Run(t, new(PaymentServiceSuite))
}

// seedHospitalStock routes stock donor -> org -> hospital so dispenses
// have something to draw on.
func (s *PaymentServiceSuite) seedHospitalStock(quantity int64) {
	_, err := s.ledgerSvc.Donate(s.ctx, ledgersvc.DonateInput{
		Donor:        s.donor,
		Organisation: s.org,
		BloodGroup:   domain.BloodGroupOPos,
		Quantity:     quantity,
	})
	s.Require().NoError(err)
	_, err = s.ledgerSvc.Transfer(s.ctx, ledgersvc.TransferInput{
		Organisation: s.org,
		Hospital:     s.hospital,
		BloodGroup:   domain.BloodGroupOPos,
		Quantity:     quantity,
	})
	s.Require().NoError(err)
}

func (s *PaymentServiceSuite) dispenseInput(orderID, paymentID string, quantity int64) VerifyAndTransferInput {
	return VerifyAndTransferInput{
		OrderID:           orderID,
		ExternalPaymentID: paymentID,
		Signature:         signature.Sign(testSecret, orderID, paymentID),
		Amount:            decimal.NewFromInt(2500),
		Kind:              KindDispense,
		Source:            s.hospital,
		Destination:       s.donor,
		BloodGroup:        domain.BloodGroupOPos,
		Quantity:          quantity,
	}
}

func (s *PaymentServiceSuite) TestVerifyAndTransfer() {
	s.seedHospitalStock(1000)

	s.Run("records payment and both ledger legs on success", func() {
		result, err := s.service.VerifyAndTransfer(s.ctx, s.dispenseInput("order_1", "pay_1", 300))
		s.Require().NoError(err)
		s.Require().NotNil(result.Payment)
		s.Require().NotNil(result.Transfer)
		s.Equal("completed", string(result.Payment.Status))

		available, err := s.ledger.Sum(s.ctx, models.ScopeHospital, s.hospital, domain.BloodGroupOPos, models.DirectionOut)
		s.Require().NoError(err)
		s.Equal(int64(300), available)

		history, err := s.service.History(s.ctx, s.hospital)
		s.Require().NoError(err)
		s.Len(history, 1)
	})

	s.Run("tampered signature leaves no trace", func() {
		in := s.dispenseInput("order_2", "pay_2", 300)
		in.Signature = signature.Sign("wrong-secret", "order_2", "pay_2")

		_, err := s.service.VerifyAndTransfer(s.ctx, in)
		s.Require().Equal(dErrors.CodePaymentVerification, dErrors.CodeOf(err))

		history, err := s.service.History(s.ctx, s.hospital)
		s.Require().NoError(err)
		s.Len(history, 1) // only the earlier success

		out, err := s.ledger.Sum(s.ctx, models.ScopeHospital, s.hospital, domain.BloodGroupOPos, models.DirectionOut)
		s.Require().NoError(err)
		s.Equal(int64(300), out)
	})

	s.Run("insufficient stock is distinct from signature failure", func() {
		_, err := s.service.VerifyAndTransfer(s.ctx, s.dispenseInput("order_3", "pay_3", 5000))
		s.Equal(dErrors.CodeInsufficientStock, dErrors.CodeOf(err))
	})

	s.Run("replayed payment id is rejected", func() {
		_, err := s.service.VerifyAndTransfer(s.ctx, s.dispenseInput("order_1", "pay_1", 100))
		s.Equal(dErrors.CodeAlreadyProcessed, dErrors.CodeOf(err))
	})

	s.Run("paid org to hospital transfer moves stock", func() {
		_, err := s.ledgerSvc.Donate(s.ctx, ledgersvc.DonateInput{
			Donor:        s.donor,
			Organisation: s.org,
			BloodGroup:   domain.BloodGroupOPos,
			Quantity:     400,
		})
		s.Require().NoError(err)

		in := VerifyAndTransferInput{
			OrderID:           "order_4",
			ExternalPaymentID: "pay_4",
			Signature:         signature.Sign(testSecret, "order_4", "pay_4"),
			Amount:            decimal.NewFromInt(1200),
			Kind:              KindTransfer,
			Source:            s.org,
			Destination:       s.hospital,
			BloodGroup:        domain.BloodGroupOPos,
			Quantity:          400,
		}
		result, err := s.service.VerifyAndTransfer(s.ctx, in)
		s.Require().NoError(err)
		s.NotNil(result.Transfer)
	})

	s.Run("missing ids are rejected before signature work", func() {
		in := s.dispenseInput("", "", 100)
		_, err := s.service.VerifyAndTransfer(s.ctx, in)
		s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
	})
}
