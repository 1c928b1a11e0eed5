package accounts

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory directory useful for tests and local demos.
// It is not intended for production use.
type MemoryRepo struct {
	mu       sync.RWMutex
	accounts map[int64]Account
}

func NewMemoryRepo(accounts ...Account) *MemoryRepo {
	r := &MemoryRepo{accounts: make(map[int64]Account, len(accounts))}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

// Put inserts or replaces an account.
func (r *MemoryRepo) Put(a Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
}

func (r *MemoryRepo) LookupByID(ctx context.Context, id int64) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) LookupByEmail(ctx context.Context, email string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	email = NormalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.accounts {
		if NormalizeEmail(a.Email) == email {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}
