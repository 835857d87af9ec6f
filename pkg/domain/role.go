package domain

import "fmt"

// Role determines which ledger writes an entity may originate or
// terminate. It is immutable after registration.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDonor        Role = "donor"
	RoleOrganisation Role = "organisation"
	RoleHospital     Role = "hospital"
)

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDonor, RoleOrganisation, RoleHospital:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }
