package sqllease

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/lease"
	"github.com/outboxkit/core/ownertoken"
	"github.com/uptrace/bun"
)

// Factory implements lease.Factory and lease.Renewer against a bun-backed
// leases table, grounded on the teacher queue library's sql/puller.go
// atomic-UPDATE-with-RETURNING idiom: the insert-or-steal decision and the
// fencing token bump both happen in one INSERT ... ON CONFLICT DO UPDATE
// ... WHERE ... RETURNING statement, so two processes racing for the same
// resource can never both win.
type Factory struct {
	db  *bun.DB
	log *slog.Logger
}

// NewFactory constructs a Factory backed by db. db must already have had
// InitDB run against it.
func NewFactory(db *bun.DB, log *slog.Logger) *Factory {
	return &Factory{db: db, log: log}
}

// Acquire implements lease.Factory.
func (f *Factory) Acquire(ctx context.Context, resourceName string, duration time.Duration, contextJSON *string) (*lease.Lease, error) {
	owner := ownertoken.New()
	now := time.Now().UTC()
	expires := now.Add(duration)

	row := &leaseModel{
		ResourceName: resourceName,
		OwnerToken:   uuid.UUID(owner),
		FencingToken: 1,
		ExpiresAt:    expires,
		ContextJSON:  contextJSON,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var won []leaseModel
	_, err := f.db.NewInsert().
		Model(row).
		On("CONFLICT (resource_name) DO UPDATE").
		Set("owner_token = EXCLUDED.owner_token").
		Set("fencing_token = leases.fencing_token + 1").
		Set("expires_at = EXCLUDED.expires_at").
		Set("context_json = EXCLUDED.context_json").
		Set("updated_at = EXCLUDED.updated_at").
		Where("leases.expires_at <= ?", now).
		Returning("*").
		Exec(ctx, &won)
	if err != nil {
		return nil, err
	}
	if len(won) == 0 {
		return nil, lease.ErrNotAcquired
	}

	return lease.NewAcquired(ctx, f, resourceName, owner, won[0].FencingToken, duration, f.log), nil
}

// Renew implements lease.Renewer: conditionally extends expires_at, only
// if ownerToken still matches - the half-interval counterpart of the
// teacher's Puller.ExtendLock.
func (f *Factory) Renew(ctx context.Context, resourceName string, ownerToken ownertoken.Token, duration time.Duration) error {
	now := time.Now().UTC()
	newExpiry := now.Add(duration)
	res, err := f.db.NewUpdate().
		Model((*leaseModel)(nil)).
		Set("expires_at = ?", newExpiry).
		Set("updated_at = ?", now).
		Where("resource_name = ?", resourceName).
		Where("owner_token = ?", uuid.UUID(ownerToken)).
		Exec(ctx)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lease.ErrLeaseLost
	}
	return nil
}

// Release implements lease.Renewer. It expires the row instead of deleting
// it, so the next Acquire of resourceName increments the stored fencing
// token rather than starting again at 1.
func (f *Factory) Release(ctx context.Context, resourceName string, ownerToken ownertoken.Token) error {
	now := time.Now().UTC()
	_, err := f.db.NewUpdate().
		Model((*leaseModel)(nil)).
		Set("expires_at = ?", now).
		Set("updated_at = ?", now).
		Where("resource_name = ?", resourceName).
		Where("owner_token = ?", uuid.UUID(ownerToken)).
		Exec(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
