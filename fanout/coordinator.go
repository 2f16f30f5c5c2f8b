package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/outboxkit/core/lease"
	"github.com/outboxkit/core/outbox"
)

// Dispatcher enqueues due Slices onto the outbox under
// SliceTopic(topic, workKey), per spec.md §4.6 step 3.
type Dispatcher struct {
	outboxS *outbox.Service
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(outboxS *outbox.Service) *Dispatcher {
	return &Dispatcher{outboxS: outboxS}
}

// Dispatch enqueues one outbox message per slice, returning the count
// dispatched.
func (d *Dispatcher) Dispatch(ctx context.Context, slices []Slice) (int, error) {
	for _, s := range slices {
		payload, err := json.Marshal(s)
		if err != nil {
			return 0, err
		}
		if _, err := d.outboxS.Enqueue(ctx, SliceTopic(s.Topic, s.WorkKey), payload, nil, "", nil); err != nil {
			return 0, err
		}
	}
	return len(slices), nil
}

// Coordinator implements spec.md §4.6's RunAsync algorithm: acquire a
// short lease over the topic, plan due slices, dispatch them, release.
type Coordinator struct {
	leases     lease.Factory
	planner    Planner
	policies   PolicyStore
	cursors    CursorStore
	dispatcher *Dispatcher
	log        *slog.Logger
}

// coordinatorLeaseDuration is spec.md §5's 90s fanout lease.
const coordinatorLeaseDuration = 90 * time.Second

// NewCoordinator constructs a Coordinator.
func NewCoordinator(leases lease.Factory, planner Planner, policies PolicyStore, cursors CursorStore, dispatcher *Dispatcher, log *slog.Logger) *Coordinator {
	return &Coordinator{leases: leases, planner: planner, policies: policies, cursors: cursors, dispatcher: dispatcher, log: log}
}

// RunAsync implements spec.md §4.6's four-step algorithm. Returns 0,nil if
// the lease could not be acquired (another process is already
// coordinating this topic).
func (c *Coordinator) RunAsync(ctx context.Context, topic, workKey string) (int, error) {
	held, err := c.leases.Acquire(ctx, LeaseName(topic, workKey), coordinatorLeaseDuration, nil)
	if err != nil {
		if errors.Is(err, lease.ErrNotAcquired) {
			return 0, nil
		}
		return 0, err
	}
	defer held.Dispose(ctx)

	slices, err := GetDueSlices(ctx, c.planner, c.policies, c.cursors, topic, workKey, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if len(slices) == 0 {
		return 0, nil
	}
	n, err := c.dispatcher.Dispatch(ctx, slices)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, s := range slices {
		if err := c.cursors.MarkCompleted(ctx, s.Topic, s.WorkKey, s.ShardKey, now); err != nil {
			c.log.Error("fanout: mark cursor completed failed", "topic", s.Topic, "shard", s.ShardKey, "error", err)
		}
	}
	return n, nil
}
