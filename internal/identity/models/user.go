package models

import (
	"net/mail"
	"time"

	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
)

// User is any participant: donor, organisation, hospital, or admin. The
// role decides which name field is authoritative and whether a blood
// group is carried.
type User struct {
	ID               domain.EntityID   `json:"id"`
	Role             domain.Role       `json:"role"`
	Name             string            `json:"name,omitempty"`
	OrganisationName string            `json:"organisation_name,omitempty"`
	HospitalName     string            `json:"hospital_name,omitempty"`
	BloodGroup       domain.BloodGroup `json:"blood_group,omitempty"`
	Email            string            `json:"email"`
	PasswordHash     string            `json:"-"`
	Phone            string            `json:"phone"`
	Address          string            `json:"address"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// DisplayName returns the role-appropriate name.
func (u *User) DisplayName() string {
	switch u.Role {
	case domain.RoleOrganisation:
		return u.OrganisationName
	case domain.RoleHospital:
		return u.HospitalName
	default:
		return u.Name
	}
}

// Validate enforces the role-conditional field requirements.
func (u *User) Validate() error {
	if !u.Role.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown role %q", u.Role)
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	if u.PasswordHash == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	if u.Phone == "" {
		return dErrors.New(dErrors.CodeValidation, "phone is required")
	}
	if u.Address == "" {
		return dErrors.New(dErrors.CodeValidation, "address is required")
	}

	switch u.Role {
	case domain.RoleOrganisation:
		if u.OrganisationName == "" {
			return dErrors.New(dErrors.CodeValidation, "organisation name is required for organisation accounts")
		}
	case domain.RoleHospital:
		if u.HospitalName == "" {
			return dErrors.New(dErrors.CodeValidation, "hospital name is required for hospital accounts")
		}
	default:
		if u.Name == "" {
			return dErrors.New(dErrors.CodeValidation, "name is required")
		}
	}

	if u.BloodGroup != "" && !u.BloodGroup.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown blood group %q", u.BloodGroup)
	}
	return nil
}
