package scheduler

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/outboxkit/core/lease/sqllease"
	"github.com/outboxkit/core/outbox"
	"github.com/outboxkit/core/outbox/sqloutbox"
	"github.com/outboxkit/core/scheduler/sqlscheduler"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

func newHarness(t *testing.T) (*bun.DB, *Client, *Loop) {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	ctx := context.Background()

	if err := sqlscheduler.InitDB(ctx, db); err != nil {
		t.Fatal(err)
	}
	if err := sqllease.InitDB(ctx, db); err != nil {
		t.Fatal(err)
	}
	if err := sqloutbox.InitDB(ctx, db); err != nil {
		t.Fatal(err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	leases := sqllease.NewFactory(db, log)
	outboxStore := sqloutbox.NewStore(db)
	outboxSvc := outbox.New(db, outboxStore, outboxStore)

	timers := sqlscheduler.NewTimerStore(db)
	jobs := sqlscheduler.NewJobStore(db)
	runs := sqlscheduler.NewJobRunStore(db)
	state := sqlscheduler.NewStateStore(db)

	client := NewClient(db, timers, jobs, runs)
	loop := NewLoop(db, leases, state, jobs, timers, runs, outboxSvc, LoopConfig{
		LeaseName:     "scheduler:run",
		LeaseDuration: 10 * time.Second,
		BatchSize:     100,
		ClaimLease:    10 * time.Second,
		MinSleep:      10 * time.Millisecond,
		MaxSleep:      time.Second,
	}, log)

	return db, client, loop
}

func TestClientScheduleTimerAndCancel(t *testing.T) {
	_, client, _ := newHarness(t)
	ctx := context.Background()

	id, err := client.ScheduleTimer(ctx, "reminder.fire", []byte("hi"), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if id.String() == "" {
		t.Fatal("expected non-nil timer id")
	}
	if err := client.CancelTimer(ctx, id); err != nil {
		t.Fatal(err)
	}
}

func TestClientCreateOrUpdateJobAndTrigger(t *testing.T) {
	_, client, _ := newHarness(t)
	ctx := context.Background()

	job, err := client.CreateOrUpdateJob(ctx, "daily-digest", "digest.send", "0 0 * * *", nil)
	if err != nil {
		t.Fatal(err)
	}
	if job.JobName != "daily-digest" {
		t.Fatalf("unexpected job name %q", job.JobName)
	}

	runID, err := client.TriggerJob(ctx, "daily-digest")
	if err != nil {
		t.Fatal(err)
	}
	if runID.String() == "" {
		t.Fatal("expected non-nil run id")
	}

	if err := client.DeleteJob(ctx, "daily-digest"); err != nil {
		t.Fatal(err)
	}
	if _, err := client.CreateOrUpdateJob(ctx, "bad-job", "x.y", "not a cron", nil); err == nil {
		t.Fatal("expected error for malformed cron schedule")
	}
}

// TestLoopTickDispatchesDueTimerOntoOutbox exercises the fenced tick that
// claims a due timer and enqueues it onto the outbox within one
// transaction (spec.md §4.5 steps 5-6).
func TestLoopTickDispatchesDueTimerOntoOutbox(t *testing.T) {
	db, client, loop := newHarness(t)
	ctx := context.Background()

	if _, err := client.ScheduleTimer(ctx, "reminder.fire", []byte("hi"), time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	sleep := loop.tick(ctx)
	if sleep <= 0 {
		t.Fatalf("expected a positive sleep duration, got %v", sleep)
	}

	count, err := db.NewSelect().Table("outbox_messages").Where("topic = ?", "reminder.fire").Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected timer to produce exactly one outbox message, got %d", count)
	}
}

func TestLoopTickMaterializesDueJobRun(t *testing.T) {
	db, client, loop := newHarness(t)
	ctx := context.Background()

	if _, err := client.CreateOrUpdateJob(ctx, "past-due-job", "job.tick", "0 0 1 1 *", nil); err != nil {
		t.Fatal(err)
	}
	// Force the job due immediately regardless of its cron schedule.
	if _, err := db.NewUpdate().Table("scheduler_jobs").Set("next_due_time = ?", time.Now().UTC().Add(-time.Second)).Where("job_name = ?", "past-due-job").Exec(ctx); err != nil {
		t.Fatal(err)
	}

	loop.tick(ctx)
	loop.tick(ctx)

	count, err := db.NewSelect().Table("outbox_messages").Where("topic = ?", "job.tick").Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected job run to produce exactly one outbox message, got %d", count)
	}
}
