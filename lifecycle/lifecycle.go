// Package lifecycle provides the start-once/stop-once guard shared by every
// long-running component in outboxkit (leases, loops, workers). It
// generalizes the single-use guard the teacher queue library embedded
// privately in each worker type into one reusable, exported primitive so
// every Loop, Lease and Dispatcher in this module shares identical
// double-start/double-stop/stop-timeout semantics.
package lifecycle

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/outboxkit/core/internal"
)

const (
	stopped = iota
	started
)

var (
	// ErrDoubleStarted is returned when Start is called on a component that
	// has already been started.
	ErrDoubleStarted = errors.New("outboxkit: double start")

	// ErrDoubleStopped is returned when Stop is called on a component that
	// is not currently running.
	ErrDoubleStopped = errors.New("outboxkit: double stop")

	// ErrStopTimeout is returned when a component fails to shut down within
	// the provided timeout during Stop. The component may still be
	// terminating in the background.
	ErrStopTimeout = errors.New("outboxkit: stop timeout")
)

// Base is an embeddable atomic start/stop guard. Zero value is "stopped".
type Base struct {
	state atomic.Int32
}

// TryStart transitions stopped -> started, or returns ErrDoubleStarted.
func (b *Base) TryStart() error {
	if !b.state.CompareAndSwap(stopped, started) {
		return ErrDoubleStarted
	}
	return nil
}

// TryStop transitions started -> stopped and invokes df to begin shutdown,
// waiting up to timeout for it to report completion. Returns
// ErrDoubleStopped if the component was not running.
func (b *Base) TryStop(timeout time.Duration, df internal.DoneFunc) error {
	if !b.state.CompareAndSwap(started, stopped) {
		return ErrDoubleStopped
	}
	done := df()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Running reports whether the component is currently started.
func (b *Base) Running() bool {
	return b.state.Load() == started
}
