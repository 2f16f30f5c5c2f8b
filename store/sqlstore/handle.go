package sqlstore

import (
	"context"
	"fmt"

	"github.com/outboxkit/core/ports"
	"github.com/outboxkit/core/store"
)

// SchemaDeployer runs whatever per-store schema setup a backend requires
// (outbox/inbox/timers/job-runs/leases table + index creation) once a new
// store is opened. The per-package InitDB functions (sqloutbox, sqlinbox,
// sqlscheduler, sqllease) take a *bun.DB rather than a *store.Handle, so a
// deployer calls them with h.DB.
type SchemaDeployer func(ctx context.Context, h *store.Handle) error

// OpenHandle builds a store.OpenFunc suitable for store.NewDynamicProvider:
// it opens a Postgres connection for the discovered entry and, if the
// entry requests it, runs deploy against the freshly opened handle before
// returning it.
func OpenHandle(deploy SchemaDeployer) store.OpenFunc {
	return func(ctx context.Context, entry ports.DatabaseDiscoveryEntry) (*store.Handle, error) {
		db, err := OpenPostgres(entry.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: open %s: %w", entry.Identifier, err)
		}
		h := &store.Handle{
			Identifier:             entry.Identifier,
			DB:                     db,
			SchemaName:             entry.SchemaName,
			TableNames:             entry.TableNames,
			EnableSchemaDeployment: entry.EnableSchemaDeployment,
		}
		if entry.EnableSchemaDeployment && deploy != nil {
			if err := deploy(ctx, h); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("sqlstore: schema deploy %s: %w", entry.Identifier, err)
			}
		}
		return h, nil
	}
}

// CloseHandle is a store.CloseFunc that closes the underlying *bun.DB,
// logging is left to the caller since CloseFunc has no error return.
func CloseHandle(h *store.Handle) {
	_ = h.DB.Close()
}
