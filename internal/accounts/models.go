package accounts

import (
	"context"
	"errors"
	"time"

	"chantier-intranet/internal/rbac"
)

// Status is the account lifecycle state. Only active accounts pass authorization.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Account is the directory's view of a user. The gateway reads it on every request and
// never writes it.
type Account struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         rbac.Role `json:"-"`
	Status       Status    `json:"status"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (a Account) Active() bool { return a.Status == StatusActive }

var (
	ErrNotFound     = errors.New("accounts: not found")
	ErrInvalidInput = errors.New("accounts: invalid input")
)

// Directory resolves accounts. Lookups are never cached across requests so that disabling
// an account takes effect immediately.
type Directory interface {
	LookupByID(ctx context.Context, id int64) (Account, error)
}

// CredentialStore resolves accounts by login email, password hash included.
type CredentialStore interface {
	LookupByEmail(ctx context.Context, email string) (Account, error)
}
