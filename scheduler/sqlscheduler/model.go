// Package sqlscheduler implements scheduler.TimerStore, scheduler.JobStore,
// scheduler.JobRunStore and scheduler.StateStore against bun models,
// grounded on the same insert/claim/update idioms as lease/sqllease and
// wq/sqlwq: one bun.BaseModel struct per table plus a table/index bootstrap
// routine.
package sqlscheduler

import (
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/scheduler"
	"github.com/outboxkit/core/wq"
	"github.com/uptrace/bun"
)

type timerModel struct {
	bun.BaseModel `bun:"table:scheduler_timers"`

	Id            uuid.UUID  `bun:"id,pk,type:uuid"`
	Topic         string     `bun:"topic,notnull"`
	Payload       []byte     `bun:"payload"`
	DueTime       time.Time  `bun:"due_time,notnull"`
	CorrelationId *uuid.UUID `bun:"correlation_id,type:uuid,nullzero"`

	Status      wq.Status  `bun:"status,notnull,default:0"`
	RetryCount  uint32     `bun:"retry_count,notnull,default:0"`
	LastError   string     `bun:"last_error,nullzero"`
	LockedUntil *time.Time `bun:"locked_until,nullzero"`
	OwnerToken  *uuid.UUID `bun:"owner_token,type:uuid,nullzero"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (m *timerModel) toDomain() *scheduler.Timer {
	return &scheduler.Timer{
		Id:            m.Id,
		Topic:         m.Topic,
		Payload:       m.Payload,
		DueTime:       m.DueTime,
		CorrelationId: m.CorrelationId,
		State: wq.State{
			Status:      m.Status,
			RetryCount:  m.RetryCount,
			LastError:   m.LastError,
			LockedUntil: m.LockedUntil,
		},
	}
}

type jobModel struct {
	bun.BaseModel `bun:"table:scheduler_jobs"`

	Id           uuid.UUID `bun:"id,pk,type:uuid"`
	JobName      string    `bun:"job_name,notnull,unique"`
	Topic        string    `bun:"topic,notnull"`
	Payload      []byte    `bun:"payload"`
	CronSchedule string    `bun:"cron_schedule,notnull"`
	IsEnabled    bool      `bun:"is_enabled,notnull,default:true"`
	NextDueTime  time.Time `bun:"next_due_time,notnull"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (m *jobModel) toDomain() *scheduler.Job {
	return &scheduler.Job{
		Id:           m.Id,
		JobName:      m.JobName,
		Topic:        m.Topic,
		Payload:      m.Payload,
		CronSchedule: m.CronSchedule,
		IsEnabled:    m.IsEnabled,
		NextDueTime:  m.NextDueTime,
	}
}

type jobRunModel struct {
	bun.BaseModel `bun:"table:scheduler_job_runs"`

	Id            uuid.UUID  `bun:"id,pk,type:uuid"`
	JobId         uuid.UUID  `bun:"job_id,type:uuid,notnull"`
	ScheduledTime time.Time  `bun:"scheduled_time,notnull"`
	StartTime     *time.Time `bun:"start_time,nullzero"`
	EndTime       *time.Time `bun:"end_time,nullzero"`

	Status      wq.Status  `bun:"status,notnull,default:0"`
	RetryCount  uint32     `bun:"retry_count,notnull,default:0"`
	LastError   string     `bun:"last_error,nullzero"`
	LockedUntil *time.Time `bun:"locked_until,nullzero"`
	OwnerToken  *uuid.UUID `bun:"owner_token,type:uuid,nullzero"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (m *jobRunModel) toDomain() *scheduler.JobRun {
	return &scheduler.JobRun{
		Id:            m.Id,
		JobId:         m.JobId,
		ScheduledTime: m.ScheduledTime,
		StartTime:     m.StartTime,
		EndTime:       m.EndTime,
		State: wq.State{
			Status:      m.Status,
			RetryCount:  m.RetryCount,
			LastError:   m.LastError,
			LockedUntil: m.LockedUntil,
		},
	}
}

// stateModel is the single-row (id always 1) SchedulerState table.
type stateModel struct {
	bun.BaseModel `bun:"table:scheduler_state"`

	Id                  int       `bun:"id,pk"`
	CurrentFencingToken int64     `bun:"current_fencing_token,notnull,default:0"`
	LastRunAt           time.Time `bun:"last_run_at,nullzero"`
}

func (m *stateModel) toDomain() *scheduler.State {
	return &scheduler.State{
		Id:                  m.Id,
		CurrentFencingToken: m.CurrentFencingToken,
		LastRunAt:           m.LastRunAt,
	}
}
