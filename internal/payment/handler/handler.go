// Package handler exposes the payment-gated transfer endpoints.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	paymentModel "bloodbridge/internal/payment/models"
	paymentsvc "bloodbridge/internal/payment/service"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/internal/platform/middleware"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
	"bloodbridge/pkg/platform/httputil"
)

// Service defines the interface for payment operations.
type Service interface {
	VerifyAndTransfer(ctx context.Context, in paymentsvc.VerifyAndTransferInput) (*paymentsvc.Result, error)
	History(ctx context.Context, entity domain.EntityID) ([]*paymentModel.Payment, error)
}

// Handler handles payment endpoints.
type Handler struct {
	logger       *slog.Logger
	payments     Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(
	payments Service,
	logger *slog.Logger,
	m *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		payments:     payments,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the payment routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	pay := chi.NewRouter()
	pay.Use(middleware.Recovery(h.logger))
	pay.Use(middleware.RequestID)
	pay.Use(middleware.Logger(h.logger))
	pay.Use(middleware.Timeout(30 * time.Second))
	pay.Use(middleware.ContentTypeJSON)
	pay.Use(middleware.LatencyMiddleware(h.metrics))
	pay.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	pay.With(middleware.RequireRole(h.logger, domain.RoleOrganisation, domain.RoleHospital)).
		Post("/verify", h.handleVerify)
	pay.Get("/history", h.handleHistory)

	r.Mount("/payments", pay)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var in paymentsvc.VerifyAndTransferInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	// The paying side is always the caller.
	source, err := domain.ParseEntityID(middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	in.Source = source

	result, err := h.payments.VerifyAndTransfer(ctx, in)
	if err != nil {
		code := dErrors.CodeOf(err)
		if code == dErrors.CodeInternal || code == dErrors.CodeDependency {
			h.logger.ErrorContext(ctx, "payment verification failed",
				"request_id", requestID,
				"error", err.Error(),
			)
		} else {
			h.logger.WarnContext(ctx, "payment rejected",
				"request_id", requestID,
				"order_id", in.OrderID,
				"reason", string(code),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	entity, err := domain.ParseEntityID(middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	payments, err := h.payments.History(ctx, entity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"payments": payments})
}
