package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/outboxkit/core/internal"
	"github.com/outboxkit/core/lifecycle"
	"github.com/outboxkit/core/ports"
	"golang.org/x/sync/singleflight"
)

// OpenFunc constructs a *Handle for one discovered database, performing
// schema deployment if entry.EnableSchemaDeployment is set.
type OpenFunc func(ctx context.Context, entry ports.DatabaseDiscoveryEntry) (*Handle, error)

// CloseFunc disposes a *Handle no longer reported by discovery.
type CloseFunc func(h *Handle)

// DynamicProvider is a Provider whose store set tracks a
// ports.DatabaseDiscovery source, refreshed on a timer. New identifiers are
// opened and schema-deployed; removed identifiers are closed; identifiers
// whose connection string or schema name changed are closed and reopened.
//
// Concurrent refreshes are collapsed through a golang.org/x/sync/singleflight
// group used as a single-slot async gate: if a refresh is already in
// flight when the timer fires again, the new tick rides the in-flight
// result instead of starting a second one. Readers always see a defensive
// snapshot behind a sync.RWMutex, never the live slice under construction.
type DynamicProvider struct {
	lifecycle.Base

	discovery ports.DatabaseDiscovery
	open      OpenFunc
	close     CloseFunc
	interval  time.Duration
	log       *slog.Logger

	group singleflight.Group
	task  internal.TimerTask

	mu      sync.RWMutex
	byID    map[string]*Handle
	entries map[string]ports.DatabaseDiscoveryEntry
}

// NewDynamicProvider constructs a DynamicProvider. Call Refresh once before
// Start to populate the initial store set synchronously, so the first
// caller of Stores never races an empty result.
func NewDynamicProvider(discovery ports.DatabaseDiscovery, open OpenFunc, closeFn CloseFunc, interval time.Duration, log *slog.Logger) *DynamicProvider {
	return &DynamicProvider{
		discovery: discovery,
		open:      open,
		close:     closeFn,
		interval:  interval,
		log:       log,
		byID:      make(map[string]*Handle),
		entries:   make(map[string]ports.DatabaseDiscoveryEntry),
	}
}

// Stores implements Provider, returning a defensive snapshot of the
// currently open handles.
func (p *DynamicProvider) Stores(context.Context) ([]*Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ret := make([]*Handle, 0, len(p.byID))
	for _, h := range p.byID {
		ret = append(ret, h)
	}
	return ret, nil
}

// Refresh polls discovery once and reconciles the store set: new
// identifiers are opened, removed ones are closed, and ones whose
// connection/schema changed are reopened. Safe to call concurrently;
// overlapping calls collapse onto a single in-flight refresh via
// singleflight.
func (p *DynamicProvider) Refresh(ctx context.Context) error {
	_, err, _ := p.group.Do("refresh", func() (any, error) {
		return nil, p.refresh(ctx)
	})
	return err
}

func (p *DynamicProvider) refresh(ctx context.Context) error {
	discovered, err := p.discovery.DiscoverDatabases(ctx)
	if err != nil {
		return fmt.Errorf("store: discovery failed: %w", err)
	}

	next := make(map[string]ports.DatabaseDiscoveryEntry, len(discovered))
	for _, e := range discovered {
		next[e.Identifier] = e
	}

	p.mu.Lock()
	prevEntries := p.entries
	prevByID := p.byID
	p.mu.Unlock()

	toOpen := make([]ports.DatabaseDiscoveryEntry, 0)
	toClose := make([]string, 0)

	for id, entry := range next {
		prev, existed := prevEntries[id]
		if !existed {
			toOpen = append(toOpen, entry)
			continue
		}
		if prev.ConnectionString != entry.ConnectionString || prev.SchemaName != entry.SchemaName {
			toClose = append(toClose, id)
			toOpen = append(toOpen, entry)
		}
	}
	for id := range prevEntries {
		if _, ok := next[id]; !ok {
			toClose = append(toClose, id)
		}
	}

	newHandles := make(map[string]*Handle, len(prevByID))
	for id, h := range prevByID {
		newHandles[id] = h
	}
	for _, id := range toClose {
		if h, ok := newHandles[id]; ok {
			p.close(h)
			delete(newHandles, id)
		}
	}
	for _, entry := range toOpen {
		h, err := p.open(ctx, entry)
		if err != nil {
			p.log.Error("store: failed to open discovered database", "identifier", entry.Identifier, "error", err)
			continue
		}
		newHandles[entry.Identifier] = h
	}

	p.mu.Lock()
	p.byID = newHandles
	p.entries = next
	p.mu.Unlock()

	return nil
}

// Start begins the periodic refresh loop.
func (p *DynamicProvider) Start(ctx context.Context) error {
	if err := p.TryStart(); err != nil {
		return err
	}
	p.task.Start(ctx, func(tickCtx context.Context) {
		if err := p.Refresh(tickCtx); err != nil {
			p.log.Error("store: refresh failed", "error", err)
		}
	}, p.interval)
	return nil
}

// Stop terminates the refresh loop, waiting up to timeout.
func (p *DynamicProvider) Stop(timeout time.Duration) error {
	return p.TryStop(timeout, p.task.Stop)
}
