// Package retention periodically purges terminal rows (Done/Failed/Dead)
// from a queue table, adapting the teacher queue library's Cleaner/
// CleanWorker to operate across any of outboxkit's four queues via the
// generic Cleaner contract below.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/outboxkit/core/internal"
	"github.com/outboxkit/core/lifecycle"
	"github.com/outboxkit/core/wq"
)

// ErrBadStatus is returned when Clean is asked to delete a non-terminal
// status.
var ErrBadStatus = errors.New("retention: status is not terminal")

// Cleaner deletes terminal rows from one queue's storage.
//
// status, if non-nil, restricts deletion to that single terminal status;
// nil deletes every terminal row. before, if non-nil, restricts deletion to
// rows whose UpdatedAt is at or before that time. Clean returns the number
// of deleted rows.
type Cleaner interface {
	Clean(ctx context.Context, status *wq.Status, before *time.Time) (int64, error)
}

// Config tunes a Worker's schedule and filter.
type Config struct {
	// Status restricts deletion to a single terminal status; nil targets
	// every terminal row.
	Status *wq.Status

	// Interval is how often Worker runs.
	Interval time.Duration

	// Before, if true, restricts deletion to rows older than Delta.
	Before bool
	Delta  time.Duration
}

// Worker periodically invokes a Cleaner according to Config, mirroring the
// teacher's CleanWorker lifecycle (start-once, graceful stop-with-timeout).
type Worker struct {
	lifecycle.Base
	cleaner Cleaner
	task    internal.TimerTask
	log     *slog.Logger
	cfg     Config
}

// NewWorker constructs a Worker. It is not started automatically.
func NewWorker(cleaner Cleaner, cfg Config, log *slog.Logger) *Worker {
	return &Worker{cleaner: cleaner, log: log, cfg: cfg}
}

func (w *Worker) beforeStamp() *time.Time {
	if !w.cfg.Before {
		return nil
	}
	ret := time.Now().UTC()
	if w.cfg.Delta != 0 {
		ret = ret.Add(-w.cfg.Delta)
	}
	return &ret
}

func (w *Worker) clean(ctx context.Context) {
	before := w.beforeStamp()
	count, err := w.cleaner.Clean(ctx, w.cfg.Status, before)
	if err != nil {
		w.log.Error("retention: clean failed", "error", err)
		return
	}
	w.log.Info("retention: cleaned rows", "count", count)
}

// Start begins periodic cleaning. Returns lifecycle.ErrDoubleStarted if
// already running.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.TryStart(); err != nil {
		return err
	}
	w.task.Start(ctx, w.clean, w.cfg.Interval)
	return nil
}

// Stop terminates the background cleaning task, waiting up to timeout.
func (w *Worker) Stop(timeout time.Duration) error {
	return w.TryStop(timeout, w.task.Stop)
}
