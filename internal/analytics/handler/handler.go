// Package handler exposes the reporting endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	analyticssvc "bloodbridge/internal/analytics/service"
	"bloodbridge/internal/ledger/models"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/internal/platform/middleware"
	"bloodbridge/pkg/domain"
	"bloodbridge/pkg/platform/httputil"
)

// Service defines the interface for reporting queries.
type Service interface {
	SystemWide(ctx context.Context) ([]models.Availability, error)
	ScopeDashboard(ctx context.Context, scope models.Scope) ([]analyticssvc.EntityReport, error)
}

// Handler handles reporting endpoints.
type Handler struct {
	logger       *slog.Logger
	analytics    Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(
	analytics Service,
	logger *slog.Logger,
	m *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		analytics:    analytics,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the reporting routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	reports := chi.NewRouter()
	reports.Use(middleware.Recovery(h.logger))
	reports.Use(middleware.RequestID)
	reports.Use(middleware.Logger(h.logger))
	reports.Use(middleware.Timeout(30 * time.Second))
	reports.Use(middleware.LatencyMiddleware(h.metrics))
	reports.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	reports.Get("/blood-groups", h.handleSystemWide)
	reports.With(middleware.RequireRole(h.logger, domain.RoleAdmin)).
		Get("/dashboard/{scope}", h.handleDashboard)

	r.Mount("/analytics", reports)
}

func (h *Handler) handleSystemWide(w http.ResponseWriter, r *http.Request) {
	report, err := h.analytics.SystemWide(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to aggregate system stock",
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"blood_groups": report})
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	scope := models.Scope(chi.URLParam(r, "scope"))
	reports, err := h.analytics.ScopeDashboard(r.Context(), scope)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entities": reports})
}
