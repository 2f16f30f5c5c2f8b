// Package scheduler provides one-shot timers and cron-driven recurring
// jobs that produce due messages onto an outbox.Service, plus the
// fencing-guarded background loop that drives both.
package scheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/wq"
)

// Timer is a one-shot outbound message scheduled for a wall-clock due time
// (spec.md §3, Timer). Once claimed and acked, its payload is enqueued onto
// the outbox in the same transaction as the Ack.
type Timer struct {
	Id            uuid.UUID
	Topic         string
	Payload       []byte
	DueTime       time.Time
	CorrelationId *uuid.UUID

	wq.State
}

// Job is a named, cron-scheduled recurring definition (spec.md §3, Job).
// Each tick of its schedule that becomes due produces exactly one JobRun.
type Job struct {
	Id           uuid.UUID
	JobName      string // unique
	Topic        string
	Payload      []byte
	CronSchedule string
	IsEnabled    bool
	NextDueTime  time.Time
}

// JobRun is one materialized execution of a Job (spec.md §3, JobRun).
type JobRun struct {
	Id            uuid.UUID
	JobId         uuid.UUID
	ScheduledTime time.Time
	StartTime     *time.Time
	EndTime       *time.Time

	wq.State
}

// State is the single-row-per-database fencing record (spec.md §3,
// SchedulerState). Id is always 1; CurrentFencingToken only ever advances.
type State struct {
	Id                 int
	CurrentFencingToken int64
	LastRunAt          time.Time
}
