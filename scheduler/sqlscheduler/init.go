package sqlscheduler

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createTables(ctx context.Context, db bun.IDB) error {
	for _, model := range []any{
		(*timerModel)(nil),
		(*jobModel)(nil),
		(*jobRunModel)(nil),
		(*stateModel)(nil),
	} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func createIndexes(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateIndex().
		Model((*timerModel)(nil)).
		Index("idx_scheduler_timers_due").
		Column("status", "due_time").
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_scheduler_jobs_due").
		Column("is_enabled", "next_due_time").
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateIndex().
		Model((*jobRunModel)(nil)).
		Index("idx_scheduler_job_runs_due").
		Column("status", "scheduled_time").
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	return nil
}

// ensureState inserts the single SchedulerState row (id 1) if absent.
func ensureState(ctx context.Context, db bun.IDB) error {
	_, err := db.NewInsert().
		Model(&stateModel{Id: 1}).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	return err
}

func initDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createTables(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createIndexes(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := ensureState(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

// InitDB creates the scheduler_timers, scheduler_jobs, scheduler_job_runs
// and scheduler_state tables and their indexes if they do not already
// exist, and seeds the single SchedulerState row. Idempotent; safe to call
// on every process startup.
func InitDB(ctx context.Context, db *bun.DB) error {
	return initDB(ctx, db)
}
