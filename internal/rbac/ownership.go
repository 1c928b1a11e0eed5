package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ResourceType tags a kind of owned resource.
type ResourceType string

const (
	ResourceChantier   ResourceType = "chantier"
	ResourceInvoice    ResourceType = "invoice"
	ResourceAttachment ResourceType = "attachment"
)

// ErrOwnerNotFound is returned by resolvers when the resource does not exist or has no owner.
var ErrOwnerNotFound = errors.New("rbac: resource owner not found")

// OwnerResolver returns the id of the client owning a resource.
type OwnerResolver interface {
	OwnerOf(ctx context.Context, resourceID int64) (int64, error)
}

// OwnerResolverFunc adapts a function to OwnerResolver.
type OwnerResolverFunc func(ctx context.Context, resourceID int64) (int64, error)

func (f OwnerResolverFunc) OwnerOf(ctx context.Context, resourceID int64) (int64, error) {
	return f(ctx, resourceID)
}

// Registry maps resource types to their ownership resolvers.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[ResourceType]OwnerResolver
}

func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[ResourceType]OwnerResolver)}
}

func (r *Registry) Register(t ResourceType, res OwnerResolver) {
	if t == "" || res == nil {
		panic(fmt.Sprintf("rbac: invalid registration for resource type %q", t))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[t] = res
}

func (r *Registry) Lookup(t ResourceType) (OwnerResolver, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[t]
	return res, ok
}

// ownershipExceptions lists the actions a client may perform on a resource it owns even
// though the static matrix denies them, and the resource type the ownership applies to.
var ownershipExceptions = map[Action]ResourceType{
	ActionViewChantier:   ResourceChantier,
	ActionViewInvoice:    ResourceInvoice,
	ActionViewAttachment: ResourceAttachment,
}

// OwnershipScope returns the resource type on which action may be granted by ownership.
func OwnershipScope(action Action) (ResourceType, bool) {
	t, ok := ownershipExceptions[action]
	return t, ok
}
