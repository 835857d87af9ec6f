package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"bloodbridge/internal/ledger/models"
	"bloodbridge/pkg/domain"
	"bloodbridge/pkg/platform/sentinel"
	txcontext "bloodbridge/pkg/platform/tx"
)

// PostgresStore persists the ledger in three append-only tables, one per
// scope. Writes join a caller-provided transaction when one is present in
// the context (pkg/platform/tx); otherwise pair writes open their own.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var tableByScope = map[models.Scope]string{
	models.ScopeUser:         "user_ledger",
	models.ScopeOrganisation: "org_ledger",
	models.ScopeHospital:     "hospital_ledger",
}

func table(scope models.Scope) (string, error) {
	t, ok := tableByScope[scope]
	if !ok {
		return "", fmt.Errorf("unknown ledger scope %q", scope)
	}
	return t, nil
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) executor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// inTx runs fn inside the context transaction when present, otherwise in
// a new one committed on success.
func (s *PostgresStore) inTx(ctx context.Context, fn func(ex executor) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) Append(ctx context.Context, record *models.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	return insertRecord(ctx, s.execer(ctx), record)
}

func (s *PostgresStore) AppendPair(ctx context.Context, first, second *models.Record) error {
	if err := first.Validate(); err != nil {
		return err
	}
	if err := second.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(ex executor) error {
		if err := insertRecord(ctx, ex, first); err != nil {
			return err
		}
		return insertRecord(ctx, ex, second)
	})
}

func (s *PostgresStore) AppendPairGuarded(ctx context.Context, guard Guard, first, second *models.Record) (int64, error) {
	if err := first.Validate(); err != nil {
		return 0, err
	}
	if err := second.Validate(); err != nil {
		return 0, err
	}
	guardTable, err := table(guard.Scope)
	if err != nil {
		return 0, err
	}

	var available int64
	err = s.inTx(ctx, func(ex executor) error {
		// Serialize concurrent withdrawals against the same
		// (entity, blood group) so two transactions cannot both pass the
		// stock check against a stale sum.
		_, err := ex.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			guard.Entity.String()+":"+guard.BloodGroup.String())
		if err != nil {
			return fmt.Errorf("acquire stock lock: %w", err)
		}

		row := ex.QueryRowContext(ctx, fmt.Sprintf(`
			SELECT COALESCE(SUM(CASE WHEN direction = 'in' THEN quantity ELSE -quantity END), 0)
			FROM %s
			WHERE entity_id = $1 AND blood_group = $2
		`, guardTable), uuid.UUID(guard.Entity), guard.BloodGroup.String())
		if err := row.Scan(&available); err != nil {
			return fmt.Errorf("sum available stock: %w", err)
		}
		if available < guard.Quantity {
			return ErrInsufficientStock
		}
		if err := insertRecord(ctx, ex, first); err != nil {
			return err
		}
		return insertRecord(ctx, ex, second)
	})
	if err != nil {
		return available, err
	}
	return available, nil
}

func (s *PostgresStore) Sum(ctx context.Context, scope models.Scope, entity domain.EntityID, bg domain.BloodGroup, dir models.Direction) (int64, error) {
	t, err := table(scope)
	if err != nil {
		return 0, err
	}
	var total int64
	err = s.execer(ctx).QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(SUM(quantity), 0)
		FROM %s
		WHERE entity_id = $1 AND blood_group = $2 AND direction = $3
	`, t), uuid.UUID(entity), bg.String(), string(dir)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum %s ledger: %w", scope, err)
	}
	return total, nil
}

func (s *PostgresStore) SumAll(ctx context.Context, scope models.Scope, bg domain.BloodGroup, dir models.Direction) (int64, error) {
	t, err := table(scope)
	if err != nil {
		return 0, err
	}
	var total int64
	err = s.execer(ctx).QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(SUM(quantity), 0)
		FROM %s
		WHERE blood_group = $1 AND direction = $2
	`, t), bg.String(), string(dir)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum %s ledger: %w", scope, err)
	}
	return total, nil
}

func (s *PostgresStore) GroupTotals(ctx context.Context, scope models.Scope) ([]models.GroupTotal, error) {
	t, err := table(scope)
	if err != nil {
		return nil, err
	}
	rows, err := s.execer(ctx).QueryContext(ctx, fmt.Sprintf(`
		SELECT entity_id, blood_group, direction, SUM(quantity)
		FROM %s
		GROUP BY entity_id, blood_group, direction
		ORDER BY entity_id, blood_group, direction
	`, t))
	if err != nil {
		return nil, fmt.Errorf("group %s ledger totals: %w", scope, err)
	}
	defer rows.Close()

	var out []models.GroupTotal
	for rows.Next() {
		var (
			entity uuid.UUID
			bg     string
			dir    string
			total  int64
		)
		if err := rows.Scan(&entity, &bg, &dir, &total); err != nil {
			return nil, fmt.Errorf("scan group total: %w", err)
		}
		out = append(out, models.GroupTotal{
			Entity:     domain.EntityID(entity),
			BloodGroup: domain.BloodGroup(bg),
			Direction:  models.Direction(dir),
			Total:      total,
		})
	}
	return out, rows.Err()
}

func (s *PostgresStore) Find(ctx context.Context, scope models.Scope, id domain.RecordID) (*models.Record, error) {
	t, err := table(scope)
	if err != nil {
		return nil, err
	}
	row := s.execer(ctx).QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE id = $1
	`, recordColumns, t), uuid.UUID(id))
	record, err := scanRecord(row, scope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger record %s not found: %w", id, sentinel.ErrNotFound)
	}
	return record, err
}

func (s *PostgresStore) ListByEntity(ctx context.Context, scope models.Scope, entity domain.EntityID, dir models.Direction) ([]*models.Record, error) {
	t, err := table(scope)
	if err != nil {
		return nil, err
	}
	rows, err := s.execer(ctx).QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE entity_id = $1 AND direction = $2
		ORDER BY created_at DESC
	`, recordColumns, t), uuid.UUID(entity), string(dir))
	if err != nil {
		return nil, fmt.Errorf("list %s ledger: %w", scope, err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		record, err := scanRecord(rows, scope)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Confirm(ctx context.Context, scope models.Scope, id domain.RecordID) error {
	t, err := table(scope)
	if err != nil {
		return err
	}
	// Conditional update keeps the false→true transition idempotent-
	// rejecting without a read-modify-write race.
	res, err := s.execer(ctx).ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET confirmed = TRUE WHERE id = $1 AND confirmed = FALSE
	`, t), uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("confirm ledger record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("confirm ledger record: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var confirmed bool
	err = s.execer(ctx).QueryRowContext(ctx, fmt.Sprintf(`
		SELECT confirmed FROM %s WHERE id = $1
	`, t), uuid.UUID(id)).Scan(&confirmed)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ledger record %s not found: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("confirm ledger record: %w", err)
	}
	return fmt.Errorf("ledger record %s already confirmed: %w", id, sentinel.ErrAlreadyUsed)
}

func (s *PostgresStore) FindByCorrelation(ctx context.Context, scope models.Scope, corr domain.CorrelationID) (*models.Record, error) {
	t, err := table(scope)
	if err != nil {
		return nil, err
	}
	row := s.execer(ctx).QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE correlation_id = $1
	`, recordColumns, t), uuid.UUID(corr))
	record, err := scanRecord(row, scope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no %s-scope record for correlation %s: %w", scope, corr, sentinel.ErrNotFound)
	}
	return record, err
}

func (s *PostgresStore) FindCounterpart(ctx context.Context, match CounterpartMatch) (*models.Record, error) {
	t, err := table(match.Scope)
	if err != nil {
		return nil, err
	}
	counterpartyColumn := map[models.Scope]string{
		models.ScopeOrganisation: "user_id",
		models.ScopeUser:         "org_id",
		models.ScopeHospital:     "org_id",
	}[match.Scope]

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE entity_id = $1 AND blood_group = $2 AND direction = $3
		  AND confirmed = FALSE
		  AND created_at BETWEEN $4 AND $5
	`, recordColumns, t)
	args := []any{
		uuid.UUID(match.Entity), match.BloodGroup.String(), string(match.Direction),
		match.At.Add(-match.Window), match.At.Add(match.Window),
	}
	if !match.Counterparty.IsNil() {
		query += fmt.Sprintf(" AND %s = $7", counterpartyColumn)
	}
	// Closest record to the reference time wins.
	query += " ORDER BY ABS(EXTRACT(EPOCH FROM (created_at - $6::timestamptz))) LIMIT 1"
	args = append(args, match.At)
	if !match.Counterparty.IsNil() {
		args = append(args, uuid.UUID(match.Counterparty))
	}

	row := s.execer(ctx).QueryRowContext(ctx, query, args...)
	record, err := scanRecord(row, match.Scope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no counterpart within window: %w", sentinel.ErrNotFound)
	}
	return record, err
}

const recordColumns = `id, direction, blood_group, quantity, entity_id, org_id, hospital_id, user_id, correlation_id, confirmed, created_at`

func insertRecord(ctx context.Context, ex executor, r *models.Record) error {
	t, err := table(r.Scope)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, direction, blood_group, quantity, entity_id, org_id, hospital_id, user_id, correlation_id, confirmed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t),
		uuid.UUID(r.ID),
		string(r.Direction),
		r.BloodGroup.String(),
		r.Quantity,
		uuid.UUID(r.Entity),
		nullableID(uuid.UUID(r.Organisation)),
		nullableID(uuid.UUID(r.Hospital)),
		nullableID(uuid.UUID(r.User)),
		nullableID(uuid.UUID(r.CorrelationID)),
		r.Confirmed,
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert %s record: %w", r.Scope, err)
	}
	return nil
}

func nullableID(u uuid.UUID) any {
	if u == uuid.Nil {
		return nil
	}
	return u
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, scope models.Scope) (*models.Record, error) {
	var (
		r              models.Record
		id, entity     uuid.UUID
		org, hosp, usr uuid.NullUUID
		corr           uuid.NullUUID
		direction, bg  string
	)
	err := row.Scan(&id, &direction, &bg, &r.Quantity, &entity, &org, &hosp, &usr, &corr, &r.Confirmed, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.ID = domain.RecordID(id)
	r.Scope = scope
	r.Direction = models.Direction(direction)
	r.BloodGroup = domain.BloodGroup(bg)
	r.Entity = domain.EntityID(entity)
	r.Organisation = domain.EntityID(org.UUID)
	r.Hospital = domain.EntityID(hosp.UUID)
	r.User = domain.EntityID(usr.UUID)
	r.CorrelationID = domain.CorrelationID(corr.UUID)
	return &r, nil
}
