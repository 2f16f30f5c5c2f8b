package wq

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/ownertoken"
)

// Claimer is the generic row-state contract the outbox and inbox queues
// implement (timers and job-runs use scheduler's own ClaimDueTx/AckTx
// stores instead), generalizing the teacher queue library's
// Puller interface (Pull/ExtendLock/Complete/Return/Kill) to the vocabulary
// spec.md §4.1 uses (Claim/Ack/Abandon/Fail/ReapExpired).
//
// T is the row type returned by Claim (e.g. *outbox.Message).
type Claimer[T any] interface {
	// Claim selects up to batch eligible rows (Ready, due, and not
	// currently locked by an unexpired lease), atomically transitions them
	// to InProgress under ownerToken with a lease of leaseDuration, and
	// returns the updated snapshots. Eligible rows are ordered by due
	// time then a stable tiebreak so a stuck early row never starves later
	// ones after a reap. Claim never blocks waiting for locked rows: it
	// skips them (SKIP LOCKED semantics).
	//
	// A batch of 0 claims nothing and returns an empty slice without any
	// DB round-trip.
	Claim(ctx context.Context, ownerToken ownertoken.Token, batch int, leaseDuration time.Duration) ([]T, error)

	// Ack transitions rows owned by ownerToken and currently InProgress to
	// Done, clearing the lease and stamping completion time. Rows owned by
	// someone else, or not InProgress, are silently skipped - Ack affects
	// zero rows for those ids, never an error. An empty ids slice performs
	// no DB I/O.
	Ack(ctx context.Context, ownerToken ownertoken.Token, ids []RowID) error

	// Abandon returns owned InProgress rows to Ready, clears the lease,
	// increments RetryCount, and sets the next due time to now+delay (or
	// now, if delay is zero). lastErr, if non-empty, replaces LastError;
	// an empty lastErr preserves whatever error was already recorded.
	// Negative delay is a caller error (ErrNegativeDelay).
	Abandon(ctx context.Context, ownerToken ownertoken.Token, ids []RowID, lastErr string, delay time.Duration) error

	// Fail terminally transitions owned rows (Failed for outbox/timers/
	// job-runs, Dead for inbox) and clears the lease. Intended for
	// max-attempts-exceeded or a caller-declared permanent failure.
	Fail(ctx context.Context, ownerToken ownertoken.Token, ids []RowID, reason string) error

	// ReapExpired scans for InProgress rows whose lease has expired and
	// returns them to Ready with the lease cleared, recovering work
	// orphaned by a crashed worker. Runs independently of Claim. Returns
	// the number of rows reaped.
	ReapExpired(ctx context.Context) (int64, error)
}

// RowID is the identifier type every claimable row uses.
type RowID = uuid.UUID

// ErrNegativeDelay is returned by Abandon (and inbox Revive) when delay is
// negative.
var ErrNegativeDelay = errKind("wq: delay must not be negative")
