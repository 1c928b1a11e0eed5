package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"chantier-intranet/internal/rbac"
)

// PostgresRepo reads the users table.
//
// Expected schema:
//
//	users(id bigserial, email text unique, name text, role text, status text,
//	      password_hash text, created_at timestamptz)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const selectAccount = `
SELECT id, email, name, role, status, password_hash, created_at
FROM users
`

func (r *PostgresRepo) LookupByID(ctx context.Context, id int64) (Account, error) {
	if id <= 0 {
		return Account{}, ErrInvalidInput
	}
	return r.scanOne(r.db.QueryRowContext(ctx, selectAccount+`WHERE id = $1`, id))
}

func (r *PostgresRepo) LookupByEmail(ctx context.Context, email string) (Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return Account{}, ErrInvalidInput
	}
	return r.scanOne(r.db.QueryRowContext(ctx, selectAccount+`WHERE lower(email) = $1`, email))
}

func (r *PostgresRepo) scanOne(row *sql.Row) (Account, error) {
	var (
		a    Account
		role string
	)
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &role, &a.Status, &a.PasswordHash, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return Account{}, fmt.Errorf("accounts: user %d: %w", a.ID, err)
	}
	a.Role = parsed
	return a, nil
}

// NormalizeEmail lowercases and trims an email for lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
