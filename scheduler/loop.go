package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/clock"
	"github.com/outboxkit/core/internal"
	"github.com/outboxkit/core/lease"
	"github.com/outboxkit/core/lifecycle"
	"github.com/outboxkit/core/outbox"
	"github.com/uptrace/bun"
)

// LoopConfig tunes a Loop.
type LoopConfig struct {
	// LeaseName is the resource name the loop's lease.Factory acquires
	// before each tick - "scheduler:run" for a single store, or
	// "scheduler:run:{store}" per tenant in a multi-DB deployment.
	LeaseName     string
	LeaseDuration time.Duration

	BatchSize    int
	ClaimLease   time.Duration
	MinSleep     time.Duration // floor applied to the computed next-event sleep
	MaxSleep     time.Duration // ceiling (spec.md §4.5 step 8: 30s)
}

// Loop is the per-database background service implementing spec.md §4.5's
// eight-step algorithm: acquire the scheduler lease, advance
// SchedulerState's fencing token, materialize due JobRuns, dispatch due
// Timers and JobRuns onto the outbox within one transaction per kind, and
// sleep until the next known due time.
type Loop struct {
	lifecycle.Base

	db      *bun.DB
	leases  lease.Factory
	state   StateStore
	jobs    JobStore
	timers  TimerStore
	runs    JobRunStore
	outboxS *outbox.Service
	cfg     LoopConfig
	log     *slog.Logger
	clock   clock.Clock
	task    internal.VariableTimerTask
}

// NewLoop constructs a Loop. It is not started automatically.
func NewLoop(db *bun.DB, leases lease.Factory, state StateStore, jobs JobStore, timers TimerStore, runs JobRunStore, outboxS *outbox.Service, cfg LoopConfig, log *slog.Logger) *Loop {
	if cfg.MaxSleep == 0 {
		cfg.MaxSleep = 30 * time.Second
	}
	return &Loop{db: db, leases: leases, state: state, jobs: jobs, timers: timers, runs: runs, outboxS: outboxS, cfg: cfg, log: log, clock: clock.Default}
}

// WithClock overrides the Loop's time source, for tests that need to
// control what counts as "due" without sleeping.
func (l *Loop) WithClock(c clock.Clock) *Loop {
	l.clock = c
	return l
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

func (l *Loop) tick(ctx context.Context) time.Duration {
	held, err := l.leases.Acquire(ctx, l.cfg.LeaseName, l.cfg.LeaseDuration, nil)
	if errors.Is(err, lease.ErrNotAcquired) {
		return l.cfg.MaxSleep
	}
	if err != nil {
		l.log.Error("scheduler: acquire lease failed", "error", err)
		return l.cfg.MaxSleep
	}
	defer held.Dispose(ctx)

	if err := l.runTick(ctx, held.FencingToken); err != nil {
		if errors.Is(err, lease.ErrLeaseLost) {
			l.log.Warn("scheduler: lease lost mid-transaction, rolled back")
		} else {
			l.log.Error("scheduler: tick failed", "error", err)
		}
		return l.cfg.MinSleep
	}

	next, err := l.nextEventTime(ctx)
	if err != nil {
		l.log.Error("scheduler: compute next event time failed", "error", err)
		return l.cfg.MaxSleep
	}
	if next == nil {
		return l.cfg.MaxSleep
	}
	return clampDuration(time.Until(*next), l.cfg.MinSleep, l.cfg.MaxSleep)
}

func (l *Loop) runTick(ctx context.Context, fencingToken int64) error {
	if err := l.tickJobs(ctx, fencingToken); err != nil {
		return err
	}
	if err := l.tickTimers(ctx, fencingToken); err != nil {
		return err
	}
	return l.tickJobRuns(ctx, fencingToken)
}

func (l *Loop) withFencedTx(ctx context.Context, fencingToken int64, fn func(tx bun.IDB) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	ok, err := l.state.UpdateFencingTx(ctx, tx, fencingToken)
	if err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if !ok {
		return errors.Join(lease.ErrLeaseLost, tx.Rollback())
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

func (l *Loop) tickJobs(ctx context.Context, fencingToken int64) error {
	return l.withFencedTx(ctx, fencingToken, func(tx bun.IDB) error {
		now := l.clock.Now()
		due, err := l.jobs.DueTx(ctx, tx, now)
		if err != nil {
			return fmt.Errorf("scheduler: due jobs: %w", err)
		}
		for _, j := range due {
			run := &JobRun{Id: uuid.New(), JobId: j.Id, ScheduledTime: now}
			if err := l.runs.CreateTx(ctx, tx, run); err != nil {
				return fmt.Errorf("scheduler: create job run: %w", err)
			}
			next, err := NextOccurrence(j.CronSchedule, now)
			if err != nil {
				return fmt.Errorf("scheduler: next occurrence for %s: %w", j.JobName, err)
			}
			if err := l.jobs.AdvanceTx(ctx, tx, j.Id, next); err != nil {
				return fmt.Errorf("scheduler: advance job: %w", err)
			}
		}
		return nil
	})
}

func (l *Loop) tickTimers(ctx context.Context, fencingToken int64) error {
	return l.withFencedTx(ctx, fencingToken, func(tx bun.IDB) error {
		due, err := l.timers.ClaimDueTx(ctx, tx, fencingToken, l.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("scheduler: claim due timers: %w", err)
		}
		if len(due) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(due))
		for i, t := range due {
			ids[i] = t.Id
			if _, err := l.outboxS.EnqueueTx(ctx, tx, t.Topic, t.Payload, &t.Id, "", nil); err != nil {
				return fmt.Errorf("scheduler: enqueue timer outbox message: %w", err)
			}
		}
		return l.timers.AckTx(ctx, tx, ids)
	})
}

func (l *Loop) tickJobRuns(ctx context.Context, fencingToken int64) error {
	return l.withFencedTx(ctx, fencingToken, func(tx bun.IDB) error {
		due, err := l.runs.ClaimDueTx(ctx, tx, fencingToken, l.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("scheduler: claim due job runs: %w", err)
		}
		if len(due) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(due))
		for i, r := range due {
			ids[i] = r.Id
			j, err := l.jobs.GetByID(ctx, tx, r.JobId)
			if err != nil {
				return fmt.Errorf("scheduler: lookup job for run: %w", err)
			}
			if _, err := l.outboxS.EnqueueTx(ctx, tx, j.Topic, j.Payload, &r.Id, "", nil); err != nil {
				return fmt.Errorf("scheduler: enqueue job run outbox message: %w", err)
			}
		}
		return l.runs.AckTx(ctx, tx, ids)
	})
}

func (l *Loop) nextEventTime(ctx context.Context) (*time.Time, error) {
	timerDue, err := l.timers.NextDue(ctx)
	if err != nil {
		return nil, err
	}
	runDue, err := l.runs.NextScheduled(ctx)
	if err != nil {
		return nil, err
	}
	jobDue, err := l.jobs.NextDue(ctx)
	if err != nil {
		return nil, err
	}
	var min *time.Time
	for _, t := range []*time.Time{timerDue, runDue, jobDue} {
		if t == nil {
			continue
		}
		if min == nil || t.Before(*min) {
			min = t
		}
	}
	return min, nil
}

// Start begins the background loop.
func (l *Loop) Start(ctx context.Context) error {
	if err := l.TryStart(); err != nil {
		return err
	}
	l.task.Start(ctx, l.tick, 0)
	return nil
}

// Stop terminates the loop, waiting up to timeout.
func (l *Loop) Stop(timeout time.Duration) error {
	return l.TryStop(timeout, l.task.Stop)
}
