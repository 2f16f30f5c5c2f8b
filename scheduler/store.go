package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrJobNotFound is returned by JobStore.Get/GetByID and surfaces through
// Client.TriggerJob when jobName or id does not name a Job. Deleting an
// unknown job is not an error.
var ErrJobNotFound = errors.New("scheduler: job not found")

// TimerStore is the bun-backed persistence contract for Timer rows. The
// Tx-suffixed methods always take an explicit bun.IDB so Loop can compose
// "claim due timers, enqueue onto outbox, ack the timer" as one atomic
// transaction per spec.md §4.5 step 5.
type TimerStore interface {
	// Create inserts a new Ready timer through db (the caller's own
	// transaction, or the store's default connection).
	Create(ctx context.Context, db bun.IDB, t *Timer) error

	// Cancel marks a Ready timer Failed so it is never claimed. Canceling
	// an already-claimed or terminal timer is a no-op.
	Cancel(ctx context.Context, id uuid.UUID) error

	// ClaimDueTx selects and locks up to batch Ready timers whose DueTime
	// has passed, transitioning them to InProgress. It does not check
	// fencingToken itself; the caller's StateStore.UpdateFencingTx in the
	// same tx is the fencing guard.
	ClaimDueTx(ctx context.Context, tx bun.IDB, fencingToken int64, batch int) ([]*Timer, error)

	// AckTx marks the given claimed timers Done.
	AckTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) error

	// ReapExpired restores to Ready the InProgress timers that have not
	// been updated for a fixed cutoff.
	ReapExpired(ctx context.Context) (int64, error)

	// NextDue returns the earliest DueTime among Ready timers, or nil if
	// none are pending.
	NextDue(ctx context.Context) (*time.Time, error)
}

// JobStore is the bun-backed persistence contract for Job (cron
// definition) rows.
type JobStore interface {
	// CreateOrUpdate upserts a Job by JobName. Idempotent: two calls with
	// identical arguments leave one Job row with an equivalent
	// NextDueTime (spec.md §8's round-trip law).
	CreateOrUpdate(ctx context.Context, jobName, topic string, payload []byte, cronSchedule string, now time.Time) (*Job, error)

	Delete(ctx context.Context, jobName string) error
	Get(ctx context.Context, jobName string) (*Job, error)
	GetByID(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Job, error)

	// DueTx returns enabled Jobs whose NextDueTime <= now, locked for
	// update within tx.
	DueTx(ctx context.Context, tx bun.IDB, now time.Time) ([]*Job, error)

	// AdvanceTx sets Job id's NextDueTime to next.
	AdvanceTx(ctx context.Context, tx bun.IDB, id uuid.UUID, next time.Time) error

	// NextDue returns the earliest NextDueTime among enabled jobs.
	NextDue(ctx context.Context) (*time.Time, error)
}

// JobRunStore is the bun-backed persistence contract for JobRun rows,
// mirroring TimerStore's Tx-suffixed claim/ack composition.
type JobRunStore interface {
	CreateTx(ctx context.Context, tx bun.IDB, run *JobRun) error
	ClaimDueTx(ctx context.Context, tx bun.IDB, fencingToken int64, batch int) ([]*JobRun, error)
	AckTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID) error
	ReapExpired(ctx context.Context) (int64, error)
	NextScheduled(ctx context.Context) (*time.Time, error)
}

// StateStore manages the single SchedulerState row.
type StateStore interface {
	// UpdateFencingTx advances CurrentFencingToken to fencingToken within
	// tx, but only if fencingToken >= the current value (spec.md §4.5's
	// monotonic write guard). Returns whether the row was updated; false
	// means a stale scheduler instance is racing a newer one and must
	// abort its transaction.
	UpdateFencingTx(ctx context.Context, tx bun.IDB, fencingToken int64) (bool, error)

	Get(ctx context.Context) (*State, error)
}
