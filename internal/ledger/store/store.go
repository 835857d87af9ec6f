package store

import (
	"context"
	"errors"
	"time"

	"bloodbridge/internal/ledger/models"
	"bloodbridge/pkg/domain"
)

// ErrInsufficientStock is returned by guarded appends when the source
// scope does not hold enough of the blood group. The available amount at
// rejection time travels alongside it in the method's return value.
var ErrInsufficientStock = errors.New("insufficient stock")

// Guard describes the stock precondition for a withdrawal-style append:
// available(Scope, Entity, BloodGroup) must be at least Quantity at the
// moment of the write.
type Guard struct {
	Scope      models.Scope
	Entity     domain.EntityID
	BloodGroup domain.BloodGroup
	Quantity   int64
}

// Store persists the three append-only ledger collections.
//
// Error Contract:
// - sentinel.ErrNotFound when a record id does not resolve
// - sentinel.ErrAlreadyUsed when Confirm targets an already-confirmed record
// - ErrInsufficientStock from guarded appends
// - wrapped infrastructure errors otherwise
//
// AppendPair and AppendPairGuarded are atomic: either both legs become
// visible or neither does. Guarded appends serialize the stock check with
// the write so two concurrent withdrawals cannot jointly overdraw.
type Store interface {
	// Append writes a single record. Prefer the pair variants; single
	// appends exist for tests and backfills.
	Append(ctx context.Context, record *models.Record) error

	// AppendPair writes both legs of one transfer as one atomic unit.
	AppendPair(ctx context.Context, first, second *models.Record) error

	// AppendPairGuarded writes both legs only if the guard holds. It
	// returns the available amount observed at write time; on
	// ErrInsufficientStock nothing is written and the amount tells the
	// caller what was actually available.
	AppendPairGuarded(ctx context.Context, guard Guard, first, second *models.Record) (int64, error)

	// Sum totals quantity over records matching (scope, entity, blood
	// group, direction). Always computed from the full record set.
	Sum(ctx context.Context, scope models.Scope, entity domain.EntityID, bg domain.BloodGroup, dir models.Direction) (int64, error)

	// SumAll totals quantity over all entities of a scope for one blood
	// group and direction.
	SumAll(ctx context.Context, scope models.Scope, bg domain.BloodGroup, dir models.Direction) (int64, error)

	// GroupTotals aggregates a whole scope in one pass, grouped by
	// (entity, blood group, direction). Used by dashboard roll-ups to
	// avoid one query per (entity, group) pair.
	GroupTotals(ctx context.Context, scope models.Scope) ([]models.GroupTotal, error)

	Find(ctx context.Context, scope models.Scope, id domain.RecordID) (*models.Record, error)

	// ListByEntity returns records of one scope owner and direction,
	// newest first.
	ListByEntity(ctx context.Context, scope models.Scope, entity domain.EntityID, dir models.Direction) ([]*models.Record, error)

	// Confirm flips the collection/receipt flag false→true exactly once.
	Confirm(ctx context.Context, scope models.Scope, id domain.RecordID) error

	// FindByCorrelation resolves the leg of a transfer in the given scope.
	FindByCorrelation(ctx context.Context, scope models.Scope, corr domain.CorrelationID) (*models.Record, error)

	// FindCounterpart is the legacy heuristic join for records written
	// before correlation IDs existed. It can return no match, leaving a
	// leg pending until manual reconciliation.
	FindCounterpart(ctx context.Context, match CounterpartMatch) (*models.Record, error)
}

// CounterpartMatch describes the window-based heuristic join between the
// two legs of one transfer. Counterparty is matched against the
// scope-appropriate counterparty field (the user reference on an
// organisation-scope record, the organisation reference on a user-scope
// record). The closest unconfirmed record within Window around At wins.
type CounterpartMatch struct {
	Scope        models.Scope
	Entity       domain.EntityID
	Counterparty domain.EntityID
	BloodGroup   domain.BloodGroup
	Direction    models.Direction
	At           time.Time
	Window       time.Duration
}
