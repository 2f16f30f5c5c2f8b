// Package store manages the set of active database backends outboxkit
// drives loops against, and routes a message/job to the right one by
// routing key. A single-store deployment uses StaticProvider with one
// entry; a multi-tenant deployment uses DynamicProvider to track a
// fluctuating set of per-tenant databases.
package store

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

// ErrNoStoreForKey is returned by Router.Route when no store is registered
// for the given routing key.
var ErrNoStoreForKey = errors.New("store: no store for key")

// ControlPlaneID is the reserved identifier for the pre-registered
// control-plane store slot, when one is configured.
const ControlPlaneID = "control-plane"

// Handle is one logical database backend: its bun connection plus the
// identity/config outboxkit needs to drive schema deployment and routing
// decisions against it.
type Handle struct {
	Identifier             string
	DB                     *bun.DB
	SchemaName             string
	TableNames             map[string]string
	EnableSchemaDeployment bool
}

// Provider returns the current set of active store handles. Implementations
// must return a defensive snapshot: callers may retain the returned slice
// across poll cycles without risk of it being mutated concurrently.
type Provider interface {
	Stores(ctx context.Context) ([]*Handle, error)
}

// StaticProvider is a Provider over a fixed, never-changing list of stores,
// configured once at startup.
type StaticProvider struct {
	handles []*Handle
}

// NewStaticProvider constructs a StaticProvider over handles. The slice is
// copied defensively.
func NewStaticProvider(handles ...*Handle) *StaticProvider {
	cp := make([]*Handle, len(handles))
	copy(cp, handles)
	return &StaticProvider{handles: cp}
}

// Stores implements Provider.
func (p *StaticProvider) Stores(context.Context) ([]*Handle, error) {
	cp := make([]*Handle, len(p.handles))
	copy(cp, p.handles)
	return cp, nil
}

// Router maps a routing key to the store responsible for it.
type Router struct {
	byKey map[string]*Handle
}

// NewRouter builds a Router from handles, keyed by their Identifier.
func NewRouter(handles []*Handle) *Router {
	byKey := make(map[string]*Handle, len(handles))
	for _, h := range handles {
		byKey[h.Identifier] = h
	}
	return &Router{byKey: byKey}
}

// Route returns the store registered for key, or ErrNoStoreForKey.
func (r *Router) Route(key string) (*Handle, error) {
	h, ok := r.byKey[key]
	if !ok {
		return nil, ErrNoStoreForKey
	}
	return h, nil
}
