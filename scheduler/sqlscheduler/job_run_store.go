package sqlscheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/scheduler"
	"github.com/outboxkit/core/wq"
	"github.com/uptrace/bun"
)

// JobRunStore implements scheduler.JobRunStore.
type JobRunStore struct {
	db *bun.DB
}

// NewJobRunStore constructs a JobRunStore. db must already have had InitDB
// run against it.
func NewJobRunStore(db *bun.DB) *JobRunStore {
	return &JobRunStore{db: db}
}

func (s *JobRunStore) CreateTx(ctx context.Context, tx bun.IDB, run *scheduler.JobRun) error {
	if tx == nil {
		tx = s.db
	}
	now := time.Now().UTC()
	row := &jobRunModel{
		Id:            run.Id,
		JobId:         run.JobId,
		ScheduledTime: run.ScheduledTime,
		Status:        wq.Ready,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err := tx.NewInsert().Model(row).Exec(ctx)
	return err
}

func (s *JobRunStore) ClaimDueTx(ctx context.Context, tx bun.IDB, fencingToken int64, batch int) ([]*scheduler.JobRun, error) {
	if batch <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	owner := fencingTokenToUUID(fencingToken)

	sub := tx.NewSelect().
		Model((*jobRunModel)(nil)).
		Column("id").
		Where("status = ?", wq.Ready).
		Where("scheduled_time <= ?", now).
		OrderExpr("scheduled_time ASC").
		Limit(batch)

	var rows []jobRunModel
	_, err := tx.NewUpdate().
		Model((*jobRunModel)(nil)).
		Set("status = ?", wq.InProgress).
		Set("owner_token = ?", owner).
		Set("start_time = ?", now).
		Set("updated_at = ?", now).
		Where("id IN (?)", sub).
		Returning("*").
		Exec(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make([]*scheduler.JobRun, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *JobRunStore) AckTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	_, err := tx.NewUpdate().
		Model((*jobRunModel)(nil)).
		Set("status = ?", wq.Done).
		Set("owner_token = NULL").
		Set("end_time = ?", now).
		Set("updated_at = ?", now).
		Where("id IN (?)", bun.In(ids)).
		Where("status = ?", wq.InProgress).
		Exec(ctx)
	return err
}

func (s *JobRunStore) ReapExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-reapAfter)
	res, err := s.db.NewUpdate().
		Model((*jobRunModel)(nil)).
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

// Clean deletes terminal (Done/Failed) job run rows, satisfying
// retention.Cleaner.
func (s *JobRunStore) Clean(ctx context.Context, status *wq.Status, before *time.Time) (int64, error) {
	q := s.db.NewDelete().Model((*jobRunModel)(nil))
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

func (s *JobRunStore) NextScheduled(ctx context.Context) (*time.Time, error) {
	var row jobRunModel
	err := s.db.NewSelect().
		Model(&row).
		Column("scheduled_time").
		Where("status = ?", wq.Ready).
		OrderExpr("scheduled_time ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &row.ScheduledTime, nil
}
