package sqlwq

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/ownertoken"
	"github.com/outboxkit/core/wq"
	"github.com/uptrace/bun"
)

// RowConfig names the table and columns one queue's bun model uses, so the
// Claim/Ack/Abandon/Fail/ReapExpired/ExtendLock functions below can operate
// on any of outbox/inbox/timers/job-runs without duplicating the row
// discipline four times.
type RowConfig struct {
	// NewModel returns a fresh, nil-valued pointer to the bun model for
	// this table, e.g. func() any { return (*outboxModel)(nil) }. Used
	// purely for table routing via bun's Model(...) call.
	NewModel func() any

	IDColumn        string
	StatusColumn    string
	OwnerColumn     string
	LockedColumn    string
	AttemptsColumn  string
	LastErrorColumn string

	// DueColumn is the column gating Claim eligibility by time (next_run_at
	// / due_time / scheduled_time). Leave empty for tables with no due-time
	// concept.
	DueColumn string

	// UpdatedColumn, if non-empty, is stamped with now on every
	// transition.
	UpdatedColumn string

	// ProcessedAtColumn, if non-empty, is stamped with now on Ack.
	ProcessedAtColumn string

	// ProcessedByColumn, if non-empty, is set to the acking owner's token
	// on Ack, before OwnerColumn itself is cleared - the Outbox
	// ProcessedBy field of spec.md §3, which must survive past the point
	// OwnerToken is nulled out.
	ProcessedByColumn string

	// OrderColumns lists, in priority order, the ORDER BY expressions
	// applied to Claim's eligibility subquery (typically due-time then a
	// stable tiebreak such as created_at or id).
	OrderColumns []string

	// DoneStatus and FailedStatus are the terminal codes Ack/Fail write.
	// Outbox/timers/job-runs use wq.Done/wq.Failed; inbox uses the same
	// numeric codes under its own "Done"/"Dead" labels.
	DoneStatus   wq.Status
	FailedStatus wq.Status
}

// Claim implements wq.Claimer.Claim generically: a single UPDATE ... WHERE
// id IN (subquery) ... RETURNING statement, matching the teacher's
// sql/puller.go Pull, so selection and state transition happen atomically
// and concurrent Claim calls never return overlapping id sets.
func Claim[T any](ctx context.Context, db bun.IDB, cfg RowConfig, owner ownertoken.Token, batch int, lease time.Duration) ([]T, error) {
	if batch <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	lockedUntil := now.Add(lease)

	sub := db.NewSelect().
		Model(cfg.NewModel()).
		Column(cfg.IDColumn)
	if cfg.DueColumn != "" {
		sub = sub.WhereGroup("AND", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Where(cfg.DueColumn+" IS NULL").WhereOr(cfg.DueColumn+" <= ?", now)
		})
	}
	sub = sub.WhereGroup("AND", func(sq *bun.SelectQuery) *bun.SelectQuery {
		return sq.
			Where(cfg.StatusColumn+" = ?", wq.Ready).
			WhereOr(cfg.StatusColumn+" = ? AND "+cfg.LockedColumn+" <= ?", wq.InProgress, now)
	})
	for _, col := range cfg.OrderColumns {
		sub = sub.OrderExpr(col + " ASC")
	}
	sub = sub.Limit(batch)

	q := db.NewUpdate().
		Model(cfg.NewModel()).
		Set(cfg.StatusColumn+" = ?", wq.InProgress).
		Set(cfg.AttemptsColumn+" = "+cfg.AttemptsColumn+" + 1").
		Set(cfg.OwnerColumn+" = ?", owner).
		Set(cfg.LockedColumn+" = ?", lockedUntil)
	if cfg.UpdatedColumn != "" {
		q = q.Set(cfg.UpdatedColumn+" = ?", now)
	}
	q = q.Where(cfg.IDColumn+" IN (?)", sub).Returning("*")

	var rows []T
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Ack implements wq.Claimer.Ack: transitions only rows owned by owner and
// currently InProgress to cfg.DoneStatus. Rows owned by anyone else are
// left untouched - no error, just zero rows affected.
func Ack(ctx context.Context, db bun.IDB, cfg RowConfig, owner ownertoken.Token, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	q := db.NewUpdate().
		Model(cfg.NewModel()).
		Set(cfg.StatusColumn+" = ?", cfg.DoneStatus).
		Set(cfg.OwnerColumn+" = NULL").
		Set(cfg.LockedColumn+" = NULL")
	if cfg.ProcessedAtColumn != "" {
		q = q.Set(cfg.ProcessedAtColumn+" = ?", now)
	}
	if cfg.ProcessedByColumn != "" {
		q = q.Set(cfg.ProcessedByColumn+" = "+cfg.OwnerColumn)
	}
	if cfg.UpdatedColumn != "" {
		q = q.Set(cfg.UpdatedColumn+" = ?", now)
	}
	q = q.Where(cfg.IDColumn+" IN (?)", bun.In(ids)).
		Where(cfg.OwnerColumn+" = ?", owner).
		Where(cfg.StatusColumn+" = ?", wq.InProgress)
	_, err := q.Exec(ctx)
	return err
}

// Abandon implements wq.Claimer.Abandon.
func Abandon(ctx context.Context, db bun.IDB, cfg RowConfig, owner ownertoken.Token, ids []uuid.UUID, lastErr string, delay time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	if delay < 0 {
		return wq.ErrNegativeDelay
	}
	now := time.Now().UTC()
	next := now.Add(delay)
	q := db.NewUpdate().
		Model(cfg.NewModel()).
		Set(cfg.StatusColumn+" = ?", wq.Ready).
		Set(cfg.OwnerColumn+" = NULL").
		Set(cfg.LockedColumn+" = NULL")
	if cfg.DueColumn != "" {
		q = q.Set(cfg.DueColumn+" = ?", next)
	}
	if lastErr != "" {
		q = q.Set(cfg.LastErrorColumn+" = ?", lastErr)
	}
	if cfg.UpdatedColumn != "" {
		q = q.Set(cfg.UpdatedColumn+" = ?", now)
	}
	q = q.Where(cfg.IDColumn+" IN (?)", bun.In(ids)).
		Where(cfg.OwnerColumn+" = ?", owner).
		Where(cfg.StatusColumn+" = ?", wq.InProgress)
	_, err := q.Exec(ctx)
	return err
}

// Fail implements wq.Claimer.Fail.
func Fail(ctx context.Context, db bun.IDB, cfg RowConfig, owner ownertoken.Token, ids []uuid.UUID, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	q := db.NewUpdate().
		Model(cfg.NewModel()).
		Set(cfg.StatusColumn+" = ?", cfg.FailedStatus).
		Set(cfg.OwnerColumn+" = NULL").
		Set(cfg.LockedColumn+" = NULL").
		Set(cfg.LastErrorColumn+" = ?", reason)
	if cfg.UpdatedColumn != "" {
		q = q.Set(cfg.UpdatedColumn+" = ?", now)
	}
	q = q.Where(cfg.IDColumn+" IN (?)", bun.In(ids)).
		Where(cfg.OwnerColumn+" = ?", owner).
		Where(cfg.StatusColumn+" = ?", wq.InProgress)
	_, err := q.Exec(ctx)
	return err
}

// ReapExpired implements wq.Claimer.ReapExpired: any InProgress row whose
// lease has already expired is returned to Ready, independent of any Claim
// in flight.
func ReapExpired(ctx context.Context, db bun.IDB, cfg RowConfig) (int64, error) {
	now := time.Now().UTC()
	q := db.NewUpdate().
		Model(cfg.NewModel()).
		Set(cfg.StatusColumn+" = ?", wq.Ready).
		Set(cfg.OwnerColumn+" = NULL").
		Set(cfg.LockedColumn+" = NULL")
	if cfg.UpdatedColumn != "" {
		q = q.Set(cfg.UpdatedColumn+" = ?", now)
	}
	q = q.Where(cfg.StatusColumn+" = ?", wq.InProgress).
		Where(cfg.LockedColumn+" <= ?", now)
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

// ExtendLock renews the visibility timeout of a row the caller currently
// owns, used by dispatch loops while a handler is still running - the SQL
// counterpart of the teacher's Worker.handleOrExtend/Puller.ExtendLock.
// Returns wq.ErrLockLost if the row is no longer owned/InProgress.
func ExtendLock(ctx context.Context, db bun.IDB, cfg RowConfig, owner ownertoken.Token, id uuid.UUID, lease time.Duration) (time.Time, error) {
	now := time.Now().UTC()
	newLock := now.Add(lease)
	q := db.NewUpdate().
		Model(cfg.NewModel()).
		Set(cfg.LockedColumn+" = ?", newLock)
	if cfg.UpdatedColumn != "" {
		q = q.Set(cfg.UpdatedColumn+" = ?", now)
	}
	q = q.Where(cfg.IDColumn+" = ?", id).
		Where(cfg.OwnerColumn+" = ?", owner).
		Where(cfg.StatusColumn+" = ?", wq.InProgress)
	res, err := q.Exec(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if rowsAffected(res) == 0 {
		return time.Time{}, wq.ErrLockLost
	}
	return newLock, nil
}
