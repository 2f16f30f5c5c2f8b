package sqlscheduler

import (
	"context"
	"time"

	"github.com/outboxkit/core/scheduler"
	"github.com/uptrace/bun"
)

// StateStore implements scheduler.StateStore against the single-row
// scheduler_state table seeded by InitDB.
type StateStore struct {
	db *bun.DB
}

// NewStateStore constructs a StateStore. db must already have had InitDB
// run against it.
func NewStateStore(db *bun.DB) *StateStore {
	return &StateStore{db: db}
}

// UpdateFencingTx implements scheduler.StateStore. The WHERE clause is the
// monotonic write guard: a stale Loop instance whose lease fencing token
// has already been superseded updates zero rows and must abort.
func (s *StateStore) UpdateFencingTx(ctx context.Context, tx bun.IDB, fencingToken int64) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	res, err := tx.NewUpdate().
		Model((*stateModel)(nil)).
		Set("current_fencing_token = ?", fencingToken).
		Set("last_run_at = ?", time.Now().UTC()).
		Where("id = 1").
		Where("current_fencing_token <= ?", fencingToken).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *StateStore) Get(ctx context.Context) (*scheduler.State, error) {
	var row stateModel
	if err := s.db.NewSelect().Model(&row).Where("id = 1").Scan(ctx); err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}
