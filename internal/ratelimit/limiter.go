// Package ratelimit implements a fixed-window request counter keyed by scope and client.
//
// A fixed window admits up to 2x the limit across a window boundary (a burst at the end
// of one window followed by a burst at the start of the next). That is accepted; a
// sliding-window or token-bucket Store can replace it behind the same interface.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Scope names a category of action with its own limit and window.
type Scope string

const (
	ScopeLogin Scope = "login"
	ScopeAPI   Scope = "api"
)

// Policy is the limit/window pair for one scope.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.IsZero() || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Store is the counter backend. Hit must perform the check-and-increment atomically per key.
// A store shared between processes must provide the same guarantee across processes.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	// Sweep drops expired entries and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// Limiter applies per-scope policies on top of a Store.
type Limiter struct {
	store    Store
	policies map[Scope]Policy
	log      *slog.Logger
}

func New(store Store, policies map[Scope]Policy, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	ps := make(map[Scope]Policy, len(policies))
	for s, p := range policies {
		ps[s] = p
	}
	return &Limiter{store: store, policies: ps, log: log}
}

// Policy returns the configured policy for scope.
func (l *Limiter) Policy(scope Scope) (Policy, bool) {
	p, ok := l.policies[scope]
	return p, ok
}

// Check counts one action for key in scope and returns the decision. It never fails:
// a scope without a policy is unlimited, and a store error admits the request.
func (l *Limiter) Check(ctx context.Context, scope Scope, key string) Decision {
	p, ok := l.policies[scope]
	if !ok || p.Limit <= 0 || p.Window <= 0 {
		return Decision{Allowed: true}
	}
	if key == "" {
		key = "unknown"
	}

	d, err := l.store.Hit(ctx, Key(scope, key), p.Limit, p.Window)
	if err != nil {
		l.log.Warn("rate limit store unavailable, admitting request", "scope", string(scope), "err", err)
		return Decision{Allowed: true, Limit: p.Limit, Remaining: p.Limit}
	}
	return d
}

// Sweep removes expired entries from the store.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx)
}

// Key builds the store key for a scope and client identity.
func Key(scope Scope, client string) string {
	return fmt.Sprintf("%s:%s", scope, client)
}
