package models

import (
	"time"

	"bloodbridge/pkg/domain"
	dErrors "bloodbridge/pkg/domain-errors"
)

// Scope names one of the three independent append-only ledger collections.
// Each scope has its own relative direction semantics:
//
//	scope         direction=in                direction=out
//	user          user received (hospital)    user donated (to organisation)
//	organisation  received from donor         released to hospital
//	hospital      received from organisation  released to recipient
type Scope string

const (
	ScopeUser         Scope = "user"
	ScopeOrganisation Scope = "organisation"
	ScopeHospital     Scope = "hospital"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeUser, ScopeOrganisation, ScopeHospital:
		return true
	}
	return false
}

// Direction tags a record as stock entering or leaving the scope owner.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Record is one leg of a blood movement. Records are append-only: after
// creation the only permitted mutation is Confirmed flipping false→true
// (collected by organisation / received by the scope owner). Available
// stock is never stored; it is derived by summing matching records.
//
// A single physical transfer is written as two Records in different
// scopes sharing a CorrelationID. Legacy records without a correlation ID
// are matched heuristically by (entity, blood group, direction, ±window).
type Record struct {
	ID         domain.RecordID   `json:"id"`
	Scope      Scope             `json:"scope"`
	Direction  Direction         `json:"direction"`
	BloodGroup domain.BloodGroup `json:"blood_group"`
	Quantity   int64             `json:"quantity"` // millilitres, always positive
	Entity     domain.EntityID   `json:"entity"`   // owner of this ledger scope

	// Counterparties; only the ones relevant to the transfer kind are set.
	Organisation domain.EntityID `json:"organisation,omitzero"`
	Hospital     domain.EntityID `json:"hospital,omitzero"`
	User         domain.EntityID `json:"user,omitzero"`

	CorrelationID domain.CorrelationID `json:"correlation_id,omitzero"`
	Confirmed     bool                 `json:"confirmed"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Validate enforces the record invariants shared by all scopes.
func (r *Record) Validate() error {
	if !r.Scope.Valid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "invalid ledger scope %q", r.Scope)
	}
	if !r.Direction.Valid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "invalid direction %q", r.Direction)
	}
	if !r.BloodGroup.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown blood group %q", r.BloodGroup)
	}
	if r.Quantity <= 0 {
		return dErrors.New(dErrors.CodeValidation, "quantity must be a positive number of millilitres")
	}
	if r.Entity.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "ledger record must have an owning entity")
	}
	return nil
}

// GroupTotal is one row of a batched aggregation pass, grouped by
// (entity, blood group, direction).
type GroupTotal struct {
	Entity     domain.EntityID
	BloodGroup domain.BloodGroup
	Direction  Direction
	Total      int64
}

// Availability is the per-blood-group report shape. All eight groups are
// always present in reports, zero-defaulted.
type Availability struct {
	BloodGroup domain.BloodGroup `json:"blood_group"`
	TotalIn    int64             `json:"total_in"`
	TotalOut   int64             `json:"total_out"`
	Available  int64             `json:"available"`
}
