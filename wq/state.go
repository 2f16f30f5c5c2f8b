package wq

import (
	"time"

	"github.com/outboxkit/core/ownertoken"
)

// State is the common delivery-state block embedded by every row type
// (OutboxMessage, InboxMessage, Timer, JobRun). It generalizes the teacher
// queue library's job.Job fields (Status, Attempts, LockedUntil) across all
// four queues, factored out as an embeddable struct instead of one shared
// row type, since each queue's business fields (Source/Hash for inbox,
// ScheduledTime for job-runs, ...) differ.
//
// Invariant (spec.md §3): Status == InProgress iff OwnerToken != zero and
// LockedUntil is set and in the future. Status in {Done, Failed} implies
// OwnerToken is cleared. A row never downgrades out of Done or Failed.
type State struct {
	Status      Status
	RetryCount  uint32
	LastError   string
	LockedUntil *time.Time
	OwnerToken  *ownertoken.Token
}

// Errors shared by every SQL-backed Claimer implementation.
type (
	// errKind lets sentinel errors carry a stable identity while still
	// satisfying errors.Is against the package-level vars below.
	errKind string
)

func (e errKind) Error() string { return string(e) }

const (
	// ErrRowLost indicates the referenced row no longer exists, or no
	// longer exists in the expected state - another actor concurrently
	// transitioned or removed it.
	ErrRowLost = errKind("wq: row lost")

	// ErrLockLost indicates the caller no longer owns the row's lease: the
	// visibility timeout expired and another worker claimed it, or the row
	// already moved to a terminal state.
	ErrLockLost = errKind("wq: lock lost")
)
