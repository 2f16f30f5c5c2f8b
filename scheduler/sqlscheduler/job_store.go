package sqlscheduler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/scheduler"
	"github.com/uptrace/bun"
)

// JobStore implements scheduler.JobStore.
type JobStore struct {
	db *bun.DB
}

// NewJobStore constructs a JobStore. db must already have had InitDB run
// against it.
func NewJobStore(db *bun.DB) *JobStore {
	return &JobStore{db: db}
}

// CreateOrUpdate upserts a Job by JobName. On conflict, Topic, Payload and
// CronSchedule are refreshed in place; NextDueTime is only recomputed when
// the cron schedule actually changed, so re-registering an unmodified job
// at every process startup (the common case: jobs are declared in code and
// upserted on boot) never perturbs an already-scheduled due time.
func (s *JobStore) CreateOrUpdate(ctx context.Context, jobName, topic string, payload []byte, cronSchedule string, now time.Time) (*scheduler.Job, error) {
	next, err := scheduler.NextOccurrence(cronSchedule, now)
	if err != nil {
		return nil, err
	}
	row := &jobModel{
		Id:           uuid.New(),
		JobName:      jobName,
		Topic:        topic,
		Payload:      payload,
		CronSchedule: cronSchedule,
		IsEnabled:    true,
		NextDueTime:  next,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	var out jobModel
	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (job_name) DO UPDATE").
		Set("topic = EXCLUDED.topic").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Set("cron_schedule = EXCLUDED.cron_schedule").
		Set("next_due_time = CASE WHEN scheduler_jobs.cron_schedule = EXCLUDED.cron_schedule THEN scheduler_jobs.next_due_time ELSE EXCLUDED.next_due_time END").
		Returning("*").
		Exec(ctx, &out)
	if err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

func (s *JobStore) Delete(ctx context.Context, jobName string) error {
	_, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("job_name = ?", jobName).
		Exec(ctx)
	return err
}

func (s *JobStore) Get(ctx context.Context, jobName string) (*scheduler.Job, error) {
	var row jobModel
	err := s.db.NewSelect().
		Model(&row).
		Where("job_name = ?", jobName).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, scheduler.ErrJobNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *JobStore) GetByID(ctx context.Context, tx bun.IDB, id uuid.UUID) (*scheduler.Job, error) {
	if tx == nil {
		tx = s.db
	}
	var row jobModel
	err := tx.NewSelect().
		Model(&row).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, scheduler.ErrJobNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *JobStore) DueTx(ctx context.Context, tx bun.IDB, now time.Time) ([]*scheduler.Job, error) {
	if tx == nil {
		tx = s.db
	}
	var rows []jobModel
	err := tx.NewSelect().
		Model(&rows).
		Where("is_enabled = ?", true).
		Where("next_due_time <= ?", now).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*scheduler.Job, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

func (s *JobStore) AdvanceTx(ctx context.Context, tx bun.IDB, id uuid.UUID, next time.Time) error {
	if tx == nil {
		tx = s.db
	}
	_, err := tx.NewUpdate().
		Model((*jobModel)(nil)).
		Set("next_due_time = ?", next).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (s *JobStore) NextDue(ctx context.Context) (*time.Time, error) {
	var row jobModel
	err := s.db.NewSelect().
		Model(&row).
		Column("next_due_time").
		Where("is_enabled = ?", true).
		OrderExpr("next_due_time ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &row.NextDueTime, nil
}
