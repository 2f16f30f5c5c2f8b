package sqlwq

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Clean deletes rows in a terminal status (statusFilter nil deletes both
// DoneStatus and FailedStatus), optionally restricted to rows whose
// UpdatedColumn is at or before the given time. It generalizes the teacher
// queue library's sql/cleaner.go Clean method across every queue table.
//
// Clean never deletes non-terminal rows: callers must pass statusFilter as
// either cfg.DoneStatus or cfg.FailedStatus, or nil for "both".
func Clean(ctx context.Context, db bun.IDB, cfg RowConfig, statusFilter *int, before *time.Time) (int64, error) {
	q := db.NewDelete().Model(cfg.NewModel())
	if statusFilter != nil {
		q = q.Where(cfg.StatusColumn+" = ?", *statusFilter)
	} else {
		q = q.Where(cfg.StatusColumn+" IN (?, ?)", cfg.DoneStatus, cfg.FailedStatus)
	}
	if before != nil && cfg.UpdatedColumn != "" {
		q = q.Where(cfg.UpdatedColumn+" <= ?", *before)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}
