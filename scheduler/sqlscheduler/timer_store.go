package sqlscheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/scheduler"
	"github.com/outboxkit/core/wq"
	"github.com/uptrace/bun"
)

// TimerStore implements scheduler.TimerStore.
type TimerStore struct {
	db *bun.DB
}

// NewTimerStore constructs a TimerStore. db must already have had InitDB
// run against it.
func NewTimerStore(db *bun.DB) *TimerStore {
	return &TimerStore{db: db}
}

func (s *TimerStore) Create(ctx context.Context, db bun.IDB, t *scheduler.Timer) error {
	if db == nil {
		db = s.db
	}
	now := time.Now().UTC()
	row := &timerModel{
		Id:            t.Id,
		Topic:         t.Topic,
		Payload:       t.Payload,
		DueTime:       t.DueTime,
		CorrelationId: t.CorrelationId,
		Status:        wq.Ready,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := db.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *TimerStore) Cancel(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.NewUpdate().
		Model((*timerModel)(nil)).
		Set("status = ?", wq.Failed).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", wq.Ready).
		Exec(ctx)
	return err
}

// ClaimDueTx selects and locks up to batch due Ready timers within tx.
// Fencing itself is enforced by the caller's surrounding
// StateStore.UpdateFencingTx call in the same transaction; fencingToken is
// only stamped onto owner_token here for observability.
func (s *TimerStore) ClaimDueTx(ctx context.Context, tx bun.IDB, fencingToken int64, batch int) ([]*scheduler.Timer, error) {
	if batch <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	owner := fencingTokenToUUID(fencingToken)

	sub := tx.NewSelect().
		Model((*timerModel)(nil)).
		Column("id").
		Where("status = ?", wq.Ready).
		Where("due_time <= ?", now).
		OrderExpr("due_time ASC").
		Limit(batch)

	var rows []timerModel
	_, err := tx.NewUpdate().
		Model((*timerModel)(nil)).
		Set("status = ?", wq.InProgress).
		Set("owner_token = ?", owner).
		Set("updated_at = ?", now).
		Where("id IN (?)", sub).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]*scheduler.Timer, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *TimerStore) AckTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.NewUpdate().
		Model((*timerModel)(nil)).
		Set("status = ?", wq.Done).
		Set("owner_token = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id IN (?)", bun.In(ids)).
		Where("status = ?", wq.InProgress).
		Exec(ctx)
	return err
}

// ReapExpired restores InProgress timers stuck past reapAfter - a recovery
// path for deployments that split claim and ack across separate
// transactions; the default Loop never leaves a timer InProgress past a
// single commit.
func (s *TimerStore) ReapExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-reapAfter)
	res, err := s.db.NewUpdate().
		Model((*timerModel)(nil)).
		Set("status = ?", wq.Ready).
		Set("owner_token = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("status = ?", wq.InProgress).
		Where("updated_at <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return n, err
}

// Clean deletes terminal (Done/Failed) timer rows, satisfying
// retention.Cleaner.
func (s *TimerStore) Clean(ctx context.Context, status *wq.Status, before *time.Time) (int64, error) {
	q := s.db.NewDelete().Model((*timerModel)(nil))
	if status != nil {
		q = q.Where("status = ?", *status)
	} else {
		q = q.Where("status IN (?)", bun.In([]wq.Status{wq.Done, wq.Failed}))
	}
	if before != nil {
		q = q.Where("updated_at <= ?", *before)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return n, err
}

func (s *TimerStore) NextDue(ctx context.Context) (*time.Time, error) {
	var row timerModel
	err := s.db.NewSelect().
		Model(&row).
		Column("due_time").
		Where("status = ?", wq.Ready).
		OrderExpr("due_time ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &row.DueTime, nil
}
