package token

import (
	"context"

	"bloodbridge/internal/identity/revocation"
	"bloodbridge/internal/platform/middleware"
	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
)

// ValidatorAdapter bridges JWTService and the revocation list into the
// middleware.JWTValidator interface. A nil revocation list skips the
// revocation check (Redis not configured).
type ValidatorAdapter struct {
	service *JWTService
	trl     revocation.TokenRevocationList
}

func NewValidatorAdapter(service *JWTService, trl revocation.TokenRevocationList) *ValidatorAdapter {
	return &ValidatorAdapter{service: service, trl: trl}
}

func (a *ValidatorAdapter) ValidateToken(ctx context.Context, tokenString string) (*middleware.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if a.trl != nil {
		revoked, err := a.trl.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeDependency, "revocation check failed")
		}
		if revoked {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has been revoked")
		}
	}

	return &middleware.JWTClaims{
		UserID: claims.UserID,
		Role:   domain.Role(claims.Role),
	}, nil
}
