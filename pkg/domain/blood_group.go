package domain

import "fmt"

// BloodGroup is one of the eight ABO/Rh groups. The set is closed; every
// aggregate and report iterates over AllBloodGroups so callers always see
// all eight entries, zero-defaulted.
type BloodGroup string

const (
	BloodGroupOPos  BloodGroup = "O+"
	BloodGroupONeg  BloodGroup = "O-"
	BloodGroupAPos  BloodGroup = "A+"
	BloodGroupANeg  BloodGroup = "A-"
	BloodGroupBPos  BloodGroup = "B+"
	BloodGroupBNeg  BloodGroup = "B-"
	BloodGroupABPos BloodGroup = "AB+"
	BloodGroupABNeg BloodGroup = "AB-"
)

// AllBloodGroups returns the fixed group set in display order.
func AllBloodGroups() []BloodGroup {
	return []BloodGroup{
		BloodGroupOPos, BloodGroupONeg,
		BloodGroupAPos, BloodGroupANeg,
		BloodGroupBPos, BloodGroupBNeg,
		BloodGroupABPos, BloodGroupABNeg,
	}
}

// ParseBloodGroup validates and returns a BloodGroup.
func ParseBloodGroup(s string) (BloodGroup, error) {
	bg := BloodGroup(s)
	if !bg.Valid() {
		return "", fmt.Errorf("unknown blood group: %q", s)
	}
	return bg, nil
}

func (bg BloodGroup) Valid() bool {
	switch bg {
	case BloodGroupOPos, BloodGroupONeg,
		BloodGroupAPos, BloodGroupANeg,
		BloodGroupBPos, BloodGroupBNeg,
		BloodGroupABPos, BloodGroupABNeg:
		return true
	}
	return false
}

func (bg BloodGroup) String() string { return string(bg) }
