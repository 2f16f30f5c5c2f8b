// Package lease provides distributed, fencing-token-backed mutual exclusion
// over a named resource, used by the scheduler loop and fanout coordinator
// to guarantee a single active driver per resource across a fleet of
// processes.
//
// The renewer goroutine generalizes the teacher queue library's
// Worker.handleOrExtend half-lock-interval renewal (worker.go) from
// "extend a job's visibility timeout while a handler runs" to "extend a
// named resource's ownership while a caller holds it".
package lease

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/outboxkit/core/internal"
	"github.com/outboxkit/core/lifecycle"
	"github.com/outboxkit/core/ownertoken"
)

// ErrLeaseLost is returned by ThrowIfLost once the renewer has failed to
// extend the lease, and is the cause passed to the lease's CancelCauseFunc.
var ErrLeaseLost = errors.New("lease: lost")

// ErrNotAcquired is returned by Factory.Acquire when the resource is
// currently held by an unexpired lease belonging to another owner.
var ErrNotAcquired = errors.New("lease: resource held by another owner")

// Renewer is the storage-side half of a Lease: given the owner token
// currently believed to hold resourceName, attempt to push its expiry
// forward by duration. Renew returns ErrLeaseLost if the row is no longer
// owned by ownerToken (stolen, expired and reaped, or deleted).
type Renewer interface {
	Renew(ctx context.Context, resourceName string, ownerToken ownertoken.Token, duration time.Duration) error

	// Release best-effort expires the (resourceName, ownerToken) lease so
	// the resource can be acquired again at once; the row and its fencing
	// token are kept. Safe to call multiple times; a no-op if the row is
	// gone or owned by someone else.
	Release(ctx context.Context, resourceName string, ownerToken ownertoken.Token) error
}

// Lease represents a held, renewing claim on a named resource.
//
// A Lease is live from the moment Factory.Acquire returns it until either
// Dispose is called or the background renewer fails, at which point the
// lease's context is canceled with ErrLeaseLost.
type Lease struct {
	lifecycle.Base

	ResourceName string
	OwnerToken   ownertoken.Token
	FencingToken int64

	renewer  Renewer
	duration time.Duration
	log      *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	task   internal.TimerTask
}

// NewAcquired constructs a Lease already in the held state, with its
// renewer running. Factory implementations call this once their storage
// layer has atomically confirmed ownership; it is not meant to be called
// directly by application code.
func NewAcquired(ctx context.Context, renewer Renewer, resourceName string, owner ownertoken.Token, fencingToken int64, duration time.Duration, log *slog.Logger) *Lease {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		ResourceName: resourceName,
		OwnerToken:   owner,
		FencingToken: fencingToken,
		renewer:      renewer,
		duration:     duration,
		log:          log,
		ctx:          leaseCtx,
		cancel:       cancel,
	}
	_ = l.TryStart()
	l.task.Start(ctx, l.renew, duration/2)
	return l
}

func (l *Lease) renew(ctx context.Context) {
	if err := l.renewer.Renew(ctx, l.ResourceName, l.OwnerToken, l.duration); err != nil {
		l.log.Warn("lease: renewal failed, marking lost", "resource", l.ResourceName, "error", err)
		l.cancel(ErrLeaseLost)
		return
	}
}

// CancellationSignal returns a context canceled the moment the lease is
// lost or disposed. Callers performing work under the lease should select
// on Done() alongside their own work and abort promptly when it fires.
func (l *Lease) CancellationSignal() context.Context {
	return l.ctx
}

// ThrowIfLost returns the cause of the lease's cancellation signal if it has
// already fired (ErrLeaseLost after a failed renewal, context.Canceled after
// Dispose or cancellation of the acquiring context), nil otherwise. Callers
// should check this immediately before any write guarded by the lease.
func (l *Lease) ThrowIfLost() error {
	if err := context.Cause(l.ctx); err != nil {
		return err
	}
	return nil
}

// Dispose stops the renewer and best-effort releases the underlying row.
// Safe to call multiple times; disposal after loss is a no-op beyond
// stopping the (already-stopped) renewer.
func (l *Lease) Dispose(ctx context.Context) {
	if err := l.TryStop(2*time.Second, l.task.Stop); err != nil {
		if !errors.Is(err, lifecycle.ErrDoubleStopped) {
			l.log.Warn("lease: stop timed out", "resource", l.ResourceName, "error", err)
		}
	}
	if l.ThrowIfLost() != nil {
		l.cancel(ErrLeaseLost)
		return
	}
	l.cancel(nil)
	if err := l.renewer.Release(ctx, l.ResourceName, l.OwnerToken); err != nil {
		l.log.Debug("lease: release failed, will expire naturally", "resource", l.ResourceName, "error", err)
	}
}

// Factory acquires leases over named resources.
type Factory interface {
	// Acquire attempts to take ownership of resourceName for duration.
	// contextJSON, if non-nil, is stored alongside the lease row for
	// observability (e.g. which shard range a fanout coordinator claimed).
	//
	// Acquire succeeds (a) when no row exists for resourceName yet, or (b)
	// when the existing row's lease has already expired. On success the
	// returned Lease's FencingToken is strictly greater than any token
	// previously issued for resourceName. Acquire returns ErrNotAcquired,
	// not an error wrapping it, when the resource is currently held.
	Acquire(ctx context.Context, resourceName string, duration time.Duration, contextJSON *string) (*Lease, error)
}
