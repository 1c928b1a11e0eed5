package rbac

import (
	"context"
	"errors"
)

// Denial reasons. They go to the audit trail only; callers see "forbidden".
const (
	ReasonRoleNotAllowed     = "role_not_allowed"
	ReasonPermissionDenied   = "permission_denied"
	ReasonNotOwner           = "not_owner"
	ReasonOwnerUnresolved    = "ownership_unresolved"
	ReasonResourceNotFound   = "resource_not_found"
	ReasonNoOwnershipContext = "ownership_context_missing"
)

// Subject is the caller as seen by the authorizer.
type Subject struct {
	UserID int64
	Role   Role
}

// Target identifies the resource a scoped action applies to.
type Target struct {
	Type ResourceType
	ID   int64
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	// ByOwnership is set when the grant came from the ownership exception.
	ByOwnership bool
	Reason      string
}

// Authorizer combines the static matrix with per-resource ownership exceptions.
type Authorizer struct {
	owners *Registry
}

func NewAuthorizer(owners *Registry) *Authorizer {
	return &Authorizer{owners: owners}
}

// RequireRole reports whether the subject's role is in allowed.
func (a *Authorizer) RequireRole(sub Subject, allowed ...Role) Decision {
	for _, r := range allowed {
		if sub.Role.Valid() && sub.Role == r {
			return Decision{Allowed: true}
		}
	}
	return Decision{Reason: ReasonRoleNotAllowed}
}

// RequirePermission checks the static matrix and, for clients, the ownership exception.
// target may be nil for unscoped actions. Any failure to resolve ownership denies.
func (a *Authorizer) RequirePermission(ctx context.Context, sub Subject, action Action, target *Target) Decision {
	if Can(sub.Role, action) {
		return Decision{Allowed: true}
	}
	if sub.Role != RoleClient {
		return Decision{Reason: ReasonPermissionDenied}
	}

	scope, ok := OwnershipScope(action)
	if !ok {
		return Decision{Reason: ReasonPermissionDenied}
	}
	if target == nil || target.Type != scope || target.ID <= 0 {
		return Decision{Reason: ReasonNoOwnershipContext}
	}
	resolver, ok := a.owners.Lookup(scope)
	if !ok {
		return Decision{Reason: ReasonOwnerUnresolved}
	}

	owner, err := resolver.OwnerOf(ctx, target.ID)
	if err != nil {
		if errors.Is(err, ErrOwnerNotFound) {
			return Decision{Reason: ReasonResourceNotFound}
		}
		return Decision{Reason: ReasonOwnerUnresolved}
	}
	if owner <= 0 || owner != sub.UserID {
		return Decision{Reason: ReasonNotOwner}
	}
	return Decision{Allowed: true, ByOwnership: true}
}
