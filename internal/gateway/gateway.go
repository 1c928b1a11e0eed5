// Package gateway decides, for every protected request, who is calling, whether they may
// act and how often, and records the outcome.
//
// Evaluation order is fixed: api rate limit, token present, token valid, account active,
// role/permission/ownership. The first failing step denies with a reason code; nothing is
// retried.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chantier-intranet/internal/accounts"
	"chantier-intranet/internal/apierr"
	"chantier-intranet/internal/auth"
	"chantier-intranet/internal/audit"
	"chantier-intranet/internal/ratelimit"
	"chantier-intranet/internal/rbac"
)

// Denial and grant reasons written to the audit trail. Callers only ever see the code.
const (
	ReasonAuthorized           = "authorized"
	ReasonAuthorizedAsOwner    = "authorized_owner"
	ReasonRateLimitExceeded    = "rate_limit_exceeded"
	ReasonTokenMissing         = "token_missing"
	ReasonAccountNotFound      = "account_not_found"
	ReasonAccountDisabled      = "account_disabled"
	ReasonDirectoryUnavailable = "directory_unavailable"
)

// TokenVerifier is the part of auth.Manager the gateway needs.
type TokenVerifier interface {
	Verify(token string, now time.Time) (auth.Claims, error)
}

// Auditor is the part of audit.Recorder the gateway needs. Record must not fail.
type Auditor interface {
	Record(ctx context.Context, rec audit.Record)
}

// Observer receives decision counters.
type Observer interface {
	GatewayDecision(allowed bool, reason string)
	RateLimited(scope string)
}

type Deps struct {
	Limiter    *ratelimit.Limiter
	Tokens     TokenVerifier
	Directory  accounts.Directory
	Authorizer *rbac.Authorizer
	Audit      Auditor
	Observer   Observer
	Log        *slog.Logger

	Cookie           auth.CookieConfig
	DirectoryTimeout time.Duration
	Clock            func() time.Time
}

type Gateway struct {
	limiter    *ratelimit.Limiter
	tokens     TokenVerifier
	directory  accounts.Directory
	authorizer *rbac.Authorizer
	audit      Auditor
	observer   Observer
	log        *slog.Logger

	cookie           auth.CookieConfig
	directoryTimeout time.Duration
	now              func() time.Time
}

func New(d Deps) (*Gateway, error) {
	if d.Limiter == nil || d.Tokens == nil || d.Directory == nil || d.Authorizer == nil || d.Audit == nil {
		return nil, errors.New("gateway: limiter, tokens, directory, authorizer and audit are required")
	}
	g := &Gateway{
		limiter:          d.Limiter,
		tokens:           d.Tokens,
		directory:        d.Directory,
		authorizer:       d.Authorizer,
		audit:            d.Audit,
		observer:         d.Observer,
		log:              d.Log,
		cookie:           d.Cookie,
		directoryTimeout: d.DirectoryTimeout,
		now:              d.Clock,
	}
	if g.observer == nil {
		g.observer = nopObserver{}
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.directoryTimeout <= 0 {
		g.directoryTimeout = 2 * time.Second
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Request is one authorization question.
type Request struct {
	ClientIP string
	Token    string
	Source   auth.TokenSource

	// Roles, when set, restricts the caller's live role to this list.
	Roles []rbac.Role
	// Action, when non-zero, must be granted by the matrix or by ownership of Target.
	Action rbac.Action
	Target *rbac.Target
}

// Decision is the gateway's answer. Reason is for the audit trail only.
type Decision struct {
	Allowed     bool
	ByOwnership bool
	Code        apierr.Code
	Reason      string

	// Identity is set once a token verified; after the directory check it reflects the
	// live account (current role, email, name).
	Identity    auth.Identity
	RateLimit   ratelimit.Decision
	ClearCookie bool
}

func (d Decision) deny(code apierr.Code, reason string) Decision {
	d.Allowed = false
	d.Code = code
	d.Reason = reason
	return d
}

// Evaluate runs the state machine for req. It has no side effects other than the api rate
// limit counter for req.ClientIP; auditing is the caller's job.
func (g *Gateway) Evaluate(ctx context.Context, req Request) Decision {
	now := g.now()

	d := Decision{RateLimit: g.limiter.Check(ctx, ratelimit.ScopeAPI, req.ClientIP)}
	if !d.RateLimit.Allowed {
		return d.deny(apierr.CodeRateLimitExceeded, ReasonRateLimitExceeded)
	}

	if req.Token == "" {
		return d.deny(apierr.CodeUnauthorized, ReasonTokenMissing)
	}

	claims, err := g.tokens.Verify(req.Token, now)
	if err != nil {
		d.ClearCookie = req.Source == auth.SourceCookie
		return d.deny(apierr.CodeUnauthorized, auth.FailureReason(err))
	}
	d.Identity = claims.Identity()

	acct, err := g.lookup(ctx, claims.UserID)
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		// Deleted after issuance: same answer as disabled.
		d.ClearCookie = true
		return d.deny(apierr.CodeAccountDisabled, ReasonAccountNotFound)
	case err != nil:
		g.log.Warn("account directory lookup failed", "user_id", claims.UserID, "err", err)
		return d.deny(apierr.CodeUnauthorized, ReasonDirectoryUnavailable)
	case !acct.Active():
		d.ClearCookie = true
		return d.deny(apierr.CodeAccountDisabled, ReasonAccountDisabled)
	}
	d.Identity = auth.Identity{UserID: acct.ID, Email: acct.Email, Role: acct.Role.String(), Name: acct.Name}

	sub := rbac.Subject{UserID: acct.ID, Role: acct.Role}
	if len(req.Roles) > 0 {
		if rd := g.authorizer.RequireRole(sub, req.Roles...); !rd.Allowed {
			return d.deny(apierr.CodeForbidden, rd.Reason)
		}
	}
	if req.Action != 0 {
		pd := g.authorizer.RequirePermission(ctx, sub, req.Action, req.Target)
		if !pd.Allowed {
			return d.deny(apierr.CodeForbidden, pd.Reason)
		}
		d.ByOwnership = pd.ByOwnership
	}

	d.Allowed = true
	d.Reason = ReasonAuthorized
	if d.ByOwnership {
		d.Reason = ReasonAuthorizedAsOwner
	}
	return d
}

func (g *Gateway) lookup(ctx context.Context, userID int64) (accounts.Account, error) {
	lctx, cancel := context.WithTimeout(ctx, g.directoryTimeout)
	defer cancel()
	return g.directory.LookupByID(lctx, userID)
}

type nopObserver struct{}

func (nopObserver) GatewayDecision(bool, string) {}
func (nopObserver) RateLimited(string)           {}
