// Package service implements payment-gated transfers: the provider
// signature is verified first, then the payment row and both ledger legs
// commit as one unit.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	ledgersvc "bloodbridge/internal/ledger/service"
	"bloodbridge/internal/payment/models"
	"bloodbridge/internal/payment/signature"
	"bloodbridge/internal/payment/store"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/internal/platform/middleware"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
	"bloodbridge/pkg/platform/audit"
	"bloodbridge/pkg/platform/sentinel"
	"bloodbridge/pkg/platform/tx"
)

// Kind selects which ledger movement a payment authorizes.
type Kind string

const (
	KindTransfer Kind = "org_to_hospital"
	KindDispense Kind = "hospital_to_recipient"
)

// Ledger is the slice of the ledger service payments delegate to.
type Ledger interface {
	Transfer(ctx context.Context, in ledgersvc.TransferInput) (*ledgersvc.TransferResult, error)
	Dispense(ctx context.Context, in ledgersvc.DispenseInput) (*ledgersvc.TransferResult, error)
}

type Service struct {
	store   store.Store
	ledger  Ledger
	runner  tx.Runner
	audit   *audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	secret  string
	now     func() time.Time
}

func New(
	st store.Store,
	ledger Ledger,
	runner tx.Runner,
	auditPublisher *audit.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
	secret string,
) *Service {
	return &Service{
		store:   st,
		ledger:  ledger,
		runner:  runner,
		audit:   auditPublisher,
		metrics: m,
		logger:  logger,
		secret:  secret,
		now:     time.Now,
	}
}

// VerifyAndTransferInput carries the provider callback plus the movement
// it pays for.
type VerifyAndTransferInput struct {
	OrderID           string          `json:"order_id"`
	ExternalPaymentID string          `json:"payment_id"`
	Signature         string          `json:"signature"`
	Amount            decimal.Decimal `json:"amount"`

	Kind        Kind              `json:"kind"`
	Source      domain.EntityID   `json:"source"`
	Destination domain.EntityID   `json:"destination"`
	BloodGroup  domain.BloodGroup `json:"blood_group"`
	Quantity    int64             `json:"quantity"`
}

// Result reports the payment and the ledger legs it authorized.
type Result struct {
	Payment  *models.Payment           `json:"payment"`
	Transfer *ledgersvc.TransferResult `json:"transfer"`
}

// VerifyAndTransfer checks the provider signature, then writes the
// payment and the two ledger legs atomically. A signature mismatch is
// fatal for the request and leaves no trace in either table; stock
// insufficiency is reported distinctly so the caller can tell "payment
// invalid" from "payment fine, no stock".
func (s *Service) VerifyAndTransfer(ctx context.Context, in VerifyAndTransferInput) (*Result, error) {
	if in.OrderID == "" || in.ExternalPaymentID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "order id and payment id are required")
	}
	if !signature.Verify(s.secret, in.OrderID, in.ExternalPaymentID, in.Signature) {
		s.metrics.TransferRejections.WithLabelValues("invalid_signature").Inc()
		return nil, dErrors.New(dErrors.CodePaymentVerification, "payment signature does not match")
	}

	payment := &models.Payment{
		ID:          domain.NewPaymentID(),
		OrderID:     in.OrderID,
		ExternalID:  in.ExternalPaymentID,
		Amount:      in.Amount,
		BloodGroup:  in.BloodGroup,
		Quantity:    in.Quantity,
		Source:      in.Source,
		Destination: in.Destination,
		Status:      models.StatusCompleted,
		CreatedAt:   s.now(),
	}

	var transfer *ledgersvc.TransferResult
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, payment); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Newf(dErrors.CodeAlreadyProcessed,
					"payment %s was already processed", in.ExternalPaymentID)
			}
			return dErrors.Wrap(err, dErrors.CodeDependency, "record payment")
		}

		var err error
		switch in.Kind {
		case KindTransfer:
			transfer, err = s.ledger.Transfer(ctx, ledgersvc.TransferInput{
				Organisation: in.Source,
				Hospital:     in.Destination,
				BloodGroup:   in.BloodGroup,
				Quantity:     in.Quantity,
			})
		case KindDispense:
			transfer, err = s.ledger.Dispense(ctx, ledgersvc.DispenseInput{
				Hospital:   in.Source,
				Recipient:  in.Destination,
				BloodGroup: in.BloodGroup,
				Quantity:   in.Quantity,
			})
		default:
			return dErrors.Newf(dErrors.CodeBadRequest, "unknown payment kind %q", in.Kind)
		}
		if err != nil {
			return err
		}

		return s.audit.Emit(ctx, audit.Event{
			Action:        audit.ActionPaymentVerified,
			Entity:        in.Source,
			Counterparty:  in.Destination,
			BloodGroup:    in.BloodGroup,
			Quantity:      in.Quantity,
			CorrelationID: transfer.CorrelationID,
			RequestID:     middleware.GetRequestID(ctx),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentsVerified.Inc()
	return &Result{Payment: payment, Transfer: transfer}, nil
}

// History lists the payments an entity was party to.
func (s *Service) History(ctx context.Context, entity domain.EntityID) ([]*models.Payment, error) {
	payments, err := s.store.ListByEntity(ctx, entity)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "list payments")
	}
	return payments, nil
}
