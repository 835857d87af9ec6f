// Package handler exposes the account endpoints: registration, login,
// logout, current user, and the admin directory.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	identityModel "bloodbridge/internal/identity/models"
	identitysvc "bloodbridge/internal/identity/service"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/internal/platform/middleware"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
	"bloodbridge/pkg/platform/httputil"
)

// Service defines the interface for account operations.
type Service interface {
	Register(ctx context.Context, in identitysvc.RegisterInput) (*identityModel.User, error)
	Login(ctx context.Context, in identitysvc.LoginInput) (*identitysvc.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Current(ctx context.Context, id domain.EntityID) (*identityModel.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]*identityModel.User, error)
	Delete(ctx context.Context, id domain.EntityID) error
}

// Handler handles account endpoints.
type Handler struct {
	logger       *slog.Logger
	identity     Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(
	identity Service,
	logger *slog.Logger,
	m *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		identity:     identity,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the account routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	public := chi.NewRouter()
	public.Use(middleware.Recovery(h.logger))
	public.Use(middleware.RequestID)
	public.Use(middleware.Logger(h.logger))
	public.Use(middleware.Timeout(30 * time.Second))
	public.Use(middleware.ContentTypeJSON)
	public.Use(middleware.LatencyMiddleware(h.metrics))
	public.Post("/register", h.handleRegister)
	public.Post("/login", h.handleLogin)
	r.Mount("/auth", public)

	authed := chi.NewRouter()
	authed.Use(middleware.Recovery(h.logger))
	authed.Use(middleware.RequestID)
	authed.Use(middleware.Logger(h.logger))
	authed.Use(middleware.Timeout(30 * time.Second))
	authed.Use(middleware.ContentTypeJSON)
	authed.Use(middleware.LatencyMiddleware(h.metrics))
	authed.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	authed.Get("/current-user", h.handleCurrentUser)
	authed.Post("/logout", h.handleLogout)
	r.Mount("/me", authed)

	admin := chi.NewRouter()
	admin.Use(middleware.Recovery(h.logger))
	admin.Use(middleware.RequestID)
	admin.Use(middleware.Logger(h.logger))
	admin.Use(middleware.Timeout(30 * time.Second))
	admin.Use(middleware.ContentTypeJSON)
	admin.Use(middleware.LatencyMiddleware(h.metrics))
	admin.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	admin.Use(middleware.RequireRole(h.logger, domain.RoleAdmin))
	admin.Get("/donors", h.handleListRole(domain.RoleDonor))
	admin.Get("/organisations", h.handleListRole(domain.RoleOrganisation))
	admin.Get("/hospitals", h.handleListRole(domain.RoleHospital))
	admin.Delete("/users/{id}", h.handleDeleteUser)
	r.Mount("/admin", admin)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var in identitysvc.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.logger.WarnContext(ctx, "invalid register request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	user, err := h.identity.Register(ctx, in)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.CodeOf(err) == dErrors.CodeDependency {
			h.logger.ErrorContext(ctx, "failed to register user",
				"request_id", requestID,
				"error", err.Error(),
			)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in identitysvc.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	result, err := h.identity.Login(ctx, in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := domain.ParseEntityID(middleware.GetUserID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "invalid user id in context",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	user, err := h.identity.Current(ctx, userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := h.identity.Logout(ctx, token); err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListRole(role domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := h.identity.ListByRole(r.Context(), role)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
	}
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := domain.ParseEntityID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user id"))
		return
	}

	if err := h.identity.Delete(ctx, id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
