// Package handler exposes the inventory endpoints: recording donations,
// transfers, and dispenses, confirming collection, and stock queries.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"bloodbridge/internal/ledger/models"
	ledgersvc "bloodbridge/internal/ledger/service"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/internal/platform/middleware"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
	"bloodbridge/pkg/platform/httputil"
)

// Service defines the interface for ledger operations.
type Service interface {
	Donate(ctx context.Context, in ledgersvc.DonateInput) (*ledgersvc.TransferResult, error)
	Transfer(ctx context.Context, in ledgersvc.TransferInput) (*ledgersvc.TransferResult, error)
	Dispense(ctx context.Context, in ledgersvc.DispenseInput) (*ledgersvc.TransferResult, error)
	Collect(ctx context.Context, in ledgersvc.CollectInput) (*ledgersvc.CollectResult, error)
	Available(ctx context.Context, scope models.Scope, entity domain.EntityID, bg domain.BloodGroup) (int64, error)
	EntityAvailability(ctx context.Context, scope models.Scope, entity domain.EntityID) ([]models.Availability, error)
	ListRecords(ctx context.Context, scope models.Scope, entity domain.EntityID, dir models.Direction) ([]*models.Record, error)
	DonorsOfOrganisation(ctx context.Context, org domain.EntityID) ([]*ledgersvc.Entity, error)
	HospitalsOfOrganisation(ctx context.Context, org domain.EntityID) ([]*ledgersvc.Entity, error)
	RecipientsOfHospital(ctx context.Context, hospital domain.EntityID) ([]*ledgersvc.Entity, error)
	OrganisationsOfHospital(ctx context.Context, hospital domain.EntityID) ([]*ledgersvc.Entity, error)
}

// Handler handles inventory endpoints.
type Handler struct {
	logger       *slog.Logger
	ledger       Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(
	ledger Service,
	logger *slog.Logger,
	m *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		ledger:       ledger,
		metrics:      m,
		jwtValidator: jwtValidator,
	}
}

// Register registers the inventory routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	inv := chi.NewRouter()
	inv.Use(middleware.Recovery(h.logger))
	inv.Use(middleware.RequestID)
	inv.Use(middleware.Logger(h.logger))
	inv.Use(middleware.Timeout(30 * time.Second))
	inv.Use(middleware.ContentTypeJSON)
	inv.Use(middleware.LatencyMiddleware(h.metrics))
	inv.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

	inv.With(middleware.RequireRole(h.logger, domain.RoleDonor, domain.RoleOrganisation)).
		Post("/donations", h.handleDonate)
	inv.With(middleware.RequireRole(h.logger, domain.RoleOrganisation)).
		Post("/transfers", h.handleTransfer)
	inv.With(middleware.RequireRole(h.logger, domain.RoleHospital)).
		Post("/dispenses", h.handleDispense)
	inv.With(middleware.RequireRole(h.logger, domain.RoleOrganisation, domain.RoleHospital)).
		Post("/collect", h.handleCollect)

	inv.Get("/availability", h.handleAvailability)
	inv.Get("/records", h.handleListRecords)
	inv.With(middleware.RequireRole(h.logger, domain.RoleOrganisation)).
		Get("/donors", h.handleDonors)
	inv.With(middleware.RequireRole(h.logger, domain.RoleOrganisation)).
		Get("/hospitals", h.handleHospitals)
	inv.With(middleware.RequireRole(h.logger, domain.RoleHospital)).
		Get("/recipients", h.handleRecipients)
	inv.With(middleware.RequireRole(h.logger, domain.RoleHospital)).
		Get("/organisations", h.handleOrganisations)

	r.Mount("/inventory", inv)
}

type donateRequest struct {
	Donor        string            `json:"donor"`
	Organisation string            `json:"organisation"`
	BloodGroup   domain.BloodGroup `json:"blood_group"`
	Quantity     int64             `json:"quantity"`
}

func (h *Handler) handleDonate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req donateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	// Donors donate as themselves; organisations record on behalf of a
	// named donor.
	if middleware.GetRole(ctx) == domain.RoleDonor {
		req.Donor = middleware.GetUserID(ctx)
	}

	donor, err := domain.ParseEntityID(req.Donor)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid donor id"))
		return
	}
	org, err := domain.ParseEntityID(req.Organisation)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid organisation id"))
		return
	}

	result, err := h.ledger.Donate(ctx, ledgersvc.DonateInput{
		Donor:        donor,
		Organisation: org,
		BloodGroup:   req.BloodGroup,
		Quantity:     req.Quantity,
	})
	if err != nil {
		h.logFailure(ctx, "record donation", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, result)
}

type transferRequest struct {
	Hospital   string            `json:"hospital"`
	BloodGroup domain.BloodGroup `json:"blood_group"`
	Quantity   int64             `json:"quantity"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	org, err := domain.ParseEntityID(middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	hospital, err := domain.ParseEntityID(req.Hospital)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid hospital id"))
		return
	}

	result, err := h.ledger.Transfer(ctx, ledgersvc.TransferInput{
		Organisation: org,
		Hospital:     hospital,
		BloodGroup:   req.BloodGroup,
		Quantity:     req.Quantity,
	})
	if err != nil {
		h.logFailure(ctx, "record transfer", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, result)
}

type dispenseRequest struct {
	Recipient  string            `json:"recipient"`
	BloodGroup domain.BloodGroup `json:"blood_group"`
	Quantity   int64             `json:"quantity"`
}

func (h *Handler) handleDispense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dispenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	hospital, err := domain.ParseEntityID(middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	recipient, err := domain.ParseEntityID(req.Recipient)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid recipient id"))
		return
	}

	result, err := h.ledger.Dispense(ctx, ledgersvc.DispenseInput{
		Hospital:   hospital,
		Recipient:  recipient,
		BloodGroup: req.BloodGroup,
		Quantity:   req.Quantity,
	})
	if err != nil {
		h.logFailure(ctx, "record dispense", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, result)
}

type collectRequest struct {
	UserRecord string `json:"user_record"`
	OrgRecord  string `json:"org_record"`
}

func (h *Handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	var in ledgersvc.CollectInput
	var err error
	if req.UserRecord != "" {
		if in.UserRecord, err = domain.ParseRecordID(req.UserRecord); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid user record id"))
			return
		}
	}
	if req.OrgRecord != "" {
		if in.OrgRecord, err = domain.ParseRecordID(req.OrgRecord); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid org record id"))
			return
		}
	}

	result, err := h.ledger.Collect(ctx, in)
	if err != nil {
		h.logFailure(ctx, "confirm collection", err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scope, entity, err := h.scopeAndEntity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if bg := r.URL.Query().Get("blood_group"); bg != "" {
		available, err := h.ledger.Available(ctx, scope, entity, domain.BloodGroup(bg))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"blood_group": bg,
			"available":   available,
		})
		return
	}

	report, err := h.ledger.EntityAvailability(ctx, scope, entity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"availability": report})
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scope, entity, err := h.scopeAndEntity(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	dir := models.Direction(r.URL.Query().Get("direction"))
	records, err := h.ledger.ListRecords(ctx, scope, entity, dir)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}

// scopeAndEntity derives the ledger scope from the caller's role and the
// entity from the token. Admins may query any entity via query params.
func (h *Handler) scopeAndEntity(r *http.Request) (models.Scope, domain.EntityID, error) {
	ctx := r.Context()
	role := middleware.GetRole(ctx)

	var scope models.Scope
	switch role {
	case domain.RoleDonor:
		scope = models.ScopeUser
	case domain.RoleOrganisation:
		scope = models.ScopeOrganisation
	case domain.RoleHospital:
		scope = models.ScopeHospital
	case domain.RoleAdmin:
		scope = models.Scope(r.URL.Query().Get("scope"))
		if !scope.Valid() {
			return "", domain.EntityID{}, dErrors.New(dErrors.CodeBadRequest, "scope query parameter is required for admin queries")
		}
		entity, err := domain.ParseEntityID(r.URL.Query().Get("entity"))
		if err != nil {
			return "", domain.EntityID{}, dErrors.New(dErrors.CodeBadRequest, "invalid entity id")
		}
		return scope, entity, nil
	default:
		return "", domain.EntityID{}, dErrors.New(dErrors.CodeForbidden, "role has no ledger scope")
	}

	entity, err := domain.ParseEntityID(middleware.GetUserID(ctx))
	if err != nil {
		return "", domain.EntityID{}, dErrors.New(dErrors.CodeInternal, "authentication context error")
	}
	return scope, entity, nil
}

func (h *Handler) handleDonors(w http.ResponseWriter, r *http.Request) {
	h.handleCounterparties(w, r, h.ledger.DonorsOfOrganisation)
}

func (h *Handler) handleHospitals(w http.ResponseWriter, r *http.Request) {
	h.handleCounterparties(w, r, h.ledger.HospitalsOfOrganisation)
}

func (h *Handler) handleRecipients(w http.ResponseWriter, r *http.Request) {
	h.handleCounterparties(w, r, h.ledger.RecipientsOfHospital)
}

func (h *Handler) handleOrganisations(w http.ResponseWriter, r *http.Request) {
	h.handleCounterparties(w, r, h.ledger.OrganisationsOfHospital)
}

func (h *Handler) handleCounterparties(
	w http.ResponseWriter,
	r *http.Request,
	list func(ctx context.Context, entity domain.EntityID) ([]*ledgersvc.Entity, error),
) {
	ctx := r.Context()

	entity, err := domain.ParseEntityID(middleware.GetUserID(ctx))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	entities, err := list(ctx, entity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (h *Handler) logFailure(ctx context.Context, op string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal || code == dErrors.CodeDependency {
		h.logger.ErrorContext(ctx, "failed to "+op,
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		return
	}
	h.logger.WarnContext(ctx, op+" rejected",
		"request_id", middleware.GetRequestID(ctx),
		"error", err.Error(),
	)
}
