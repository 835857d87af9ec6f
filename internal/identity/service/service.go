// Package service implements account management: registration, login,
// logout via token revocation, and admin listings.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bloodbridge/internal/identity/models"
	"bloodbridge/internal/identity/revocation"
	"bloodbridge/internal/identity/store"
	"bloodbridge/internal/identity/token"
	"bloodbridge/internal/notify"
	"bloodbridge/internal/platform/metrics"
	"bloodbridge/internal/platform/middleware"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
	"bloodbridge/pkg/platform/audit"
	"bloodbridge/pkg/platform/sentinel"
)

type Service struct {
	store    store.Store
	tokens   *token.JWTService
	trl      revocation.TokenRevocationList
	tokenTTL time.Duration
	audit    *audit.Publisher
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func New(
	st store.Store,
	tokens *token.JWTService,
	trl revocation.TokenRevocationList,
	tokenTTL time.Duration,
	auditPublisher *audit.Publisher,
	notifier notify.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    st,
		tokens:   tokens,
		trl:      trl,
		tokenTTL: tokenTTL,
		audit:    auditPublisher,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterInput carries the sign-up form. Name fields are
// role-conditional; see models.User.Validate.
type RegisterInput struct {
	Role             domain.Role       `json:"role"`
	Name             string            `json:"name"`
	OrganisationName string            `json:"organisation_name"`
	HospitalName     string            `json:"hospital_name"`
	BloodGroup       domain.BloodGroup `json:"blood_group"`
	Email            string            `json:"email"`
	Password         string            `json:"password"`
	Phone            string            `json:"phone"`
	Address          string            `json:"address"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if len(in.Password) < 8 {
		return nil, dErrors.New(dErrors.CodeValidation, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "hash password")
	}

	now := s.now()
	user := &models.User{
		ID:               domain.NewEntityID(),
		Role:             in.Role,
		Name:             in.Name,
		OrganisationName: in.OrganisationName,
		HospitalName:     in.HospitalName,
		BloodGroup:       in.BloodGroup,
		Email:            in.Email,
		PasswordHash:     string(hash),
		Phone:            in.Phone,
		Address:          in.Address,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "email is already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "create user")
	}

	s.metrics.UsersRegistered.Inc()
	if err := s.audit.Emit(ctx, audit.Event{
		Action:    audit.ActionUserRegistered,
		Entity:    user.ID,
		RequestID: middleware.GetRequestID(ctx),
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit registration", "error", err)
	}
	s.sendWelcome(ctx, user)

	return user, nil
}

func (s *Service) sendWelcome(ctx context.Context, user *models.User) {
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, 10*time.Second)
		defer cancel()
		body := "Hello " + user.DisplayName() + ",\n\nwelcome to Blood Bridge. Your " +
			string(user.Role) + " account is ready.\n\nBlood Bridge"
		if err := s.notifier.Send(ctx, user.Email, "Welcome to Blood Bridge", body); err != nil {
			s.logger.WarnContext(ctx, "welcome notification failed", "to", user.Email, "error", err)
		}
	}()
}

// LoginInput requires the role alongside the credentials; logging into
// the wrong portal is rejected even with a valid password.
type LoginInput struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

// LoginResult carries the signed access token and the account it belongs to.
type LoginResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	user, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "find user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	if in.Role != "" && in.Role != user.Role {
		return nil, dErrors.Newf(dErrors.CodeRoleMismatch,
			"account is registered as %s, not %s", user.Role, in.Role)
	}

	signed, err := s.tokens.GenerateAccessToken(user.ID, user.Role, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "sign token")
	}

	if err := s.audit.Emit(ctx, audit.Event{
		Action:    audit.ActionLoginSucceeded,
		Entity:    user.ID,
		RequestID: middleware.GetRequestID(ctx),
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit login", "error", err)
	}

	return &LoginResult{Token: signed, User: user}, nil
}

// Logout revokes the presented token for its remaining lifetime. A nil
// revocation list makes logout a client-side-only operation.
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.tokens.ValidateToken(tokenString)
	if err != nil {
		return err
	}
	if s.trl == nil {
		return nil
	}
	ttl := s.tokenTTL
	if claims.ExpiresAt != nil {
		if remaining := time.Until(claims.ExpiresAt.Time); remaining > 0 {
			ttl = remaining
		}
	}
	if err := s.trl.RevokeToken(ctx, claims.ID, ttl); err != nil {
		return dErrors.Wrap(err, dErrors.CodeDependency, "revoke token")
	}
	return nil
}

// Current returns the account for an authenticated user ID.
func (s *Service) Current(ctx context.Context, id domain.EntityID) (*models.User, error) {
	user, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "user %s does not exist", id)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "find user")
	}
	return user, nil
}

// ListByRole is the admin directory view.
func (s *Service) ListByRole(ctx context.Context, role domain.Role) ([]*models.User, error) {
	if !role.Valid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown role %q", role)
	}
	users, err := s.store.ListByRole(ctx, role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDependency, "list users")
	}
	return users, nil
}

// Delete removes an account. Ledger records referencing it are kept; the
// ledger is append-only and listings tolerate dangling counterparties.
func (s *Service) Delete(ctx context.Context, id domain.EntityID) error {
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Newf(dErrors.CodeNotFound, "user %s does not exist", id)
		}
		return dErrors.Wrap(err, dErrors.CodeDependency, "delete user")
	}
	if err := s.audit.Emit(ctx, audit.Event{
		Action:    audit.ActionUserDeleted,
		Entity:    id,
		RequestID: middleware.GetRequestID(ctx),
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit deletion", "error", err)
	}
	return nil
}
