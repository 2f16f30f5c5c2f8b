package scheduler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var validate = validator.New()

// ScheduleTimerArgs validates Client.ScheduleTimer's arguments.
type ScheduleTimerArgs struct {
	Topic   string `validate:"required"`
	Payload []byte
	DueTime time.Time `validate:"required"`
}

// CreateOrUpdateJobArgs validates Client.CreateOrUpdateJob's arguments.
type CreateOrUpdateJobArgs struct {
	JobName      string `validate:"required"`
	Topic        string `validate:"required"`
	CronSchedule string `validate:"required"`
	Payload      []byte
}

// Client is the public scheduling API of spec.md §4.5.
type Client struct {
	db     bun.IDB
	timers TimerStore
	jobs   JobStore
	runs   JobRunStore
}

// NewClient constructs a Client. db is the default connection used when no
// transaction is supplied.
func NewClient(db bun.IDB, timers TimerStore, jobs JobStore, runs JobRunStore) *Client {
	return &Client{db: db, timers: timers, jobs: jobs, runs: runs}
}

// ScheduleTimer registers a one-shot Timer due at dueTime, returning its id.
func (c *Client) ScheduleTimer(ctx context.Context, topic string, payload []byte, dueTime time.Time) (uuid.UUID, error) {
	args := ScheduleTimerArgs{Topic: topic, Payload: payload, DueTime: dueTime}
	if err := validate.Struct(args); err != nil {
		return uuid.Nil, err
	}
	t := &Timer{Id: uuid.New(), Topic: topic, Payload: payload, DueTime: dueTime}
	if err := c.timers.Create(ctx, c.db, t); err != nil {
		return uuid.Nil, err
	}
	return t.Id, nil
}

// CancelTimer cancels a not-yet-due Timer. A no-op if it has already been
// claimed or completed.
func (c *Client) CancelTimer(ctx context.Context, id uuid.UUID) error {
	return c.timers.Cancel(ctx, id)
}

// CreateOrUpdateJob upserts a cron Job definition by name. Idempotent on
// jobName: calling it twice with identical arguments leaves one Job row
// with an equivalent NextDueTime.
func (c *Client) CreateOrUpdateJob(ctx context.Context, jobName, topic, cronSchedule string, payload []byte) (*Job, error) {
	args := CreateOrUpdateJobArgs{JobName: jobName, Topic: topic, CronSchedule: cronSchedule, Payload: payload}
	if err := validate.Struct(args); err != nil {
		return nil, err
	}
	if _, err := ParseCron(cronSchedule); err != nil {
		return nil, err
	}
	return c.jobs.CreateOrUpdate(ctx, jobName, topic, payload, cronSchedule, time.Now().UTC())
}

// DeleteJob removes a Job definition by name.
func (c *Client) DeleteJob(ctx context.Context, jobName string) error {
	return c.jobs.Delete(ctx, jobName)
}

// TriggerJob inserts an immediate JobRun for jobName, scheduled for now,
// independent of its cron schedule.
func (c *Client) TriggerJob(ctx context.Context, jobName string) (uuid.UUID, error) {
	j, err := c.jobs.Get(ctx, jobName)
	if err != nil {
		return uuid.Nil, err
	}
	run := &JobRun{Id: uuid.New(), JobId: j.Id, ScheduledTime: time.Now().UTC()}
	if err := c.runs.CreateTx(ctx, c.db, run); err != nil {
		return uuid.Nil, err
	}
	return run.Id, nil
}
