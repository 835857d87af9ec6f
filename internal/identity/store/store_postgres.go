package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"bloodbridge/internal/identity/models"
	"bloodbridge/pkg/domain"
	"bloodbridge/pkg/platform/sentinel"
	txcontext "bloodbridge/pkg/platform/tx"
)

const userColumns = `id, role, name, organisation_name, hospital_name, blood_group,
	email, password_hash, phone, address, created_at, updated_at`

// PostgresStore persists users in the users table. Writes join a
// transaction carried in the context when one is present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
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

func (s *PostgresStore) Create(ctx context.Context, user *models.User) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, lower($7), $8, $9, $10, $11, $12)
	`,
		user.ID.String(), string(user.Role), user.Name, user.OrganisationName,
		user.HospitalName, string(user.BloodGroup), user.Email, user.PasswordHash,
		user.Phone, user.Address, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.EntityID) (*models.User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id.String())
	return scanUser(row)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = lower($1)
	`, email)
	return scanUser(row)
}

func (s *PostgresStore) ListByRole(ctx context.Context, role domain.Role) ([]*models.User, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY created_at DESC
	`, string(role))
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.EntityID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user       models.User
		id         string
		role       string
		bloodGroup string
	)
	err := row.Scan(
		&id, &role, &user.Name, &user.OrganisationName, &user.HospitalName,
		&bloodGroup, &user.Email, &user.PasswordHash, &user.Phone, &user.Address,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.ID, err = domain.ParseEntityID(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	user.Role = domain.Role(role)
	user.BloodGroup = domain.BloodGroup(bloodGroup)
	return &user, nil
}
