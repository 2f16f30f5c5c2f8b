package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outboxkit/core/backoff"
	"github.com/outboxkit/core/internal"
	"github.com/outboxkit/core/lease"
	"github.com/outboxkit/core/lifecycle"
	"github.com/outboxkit/core/message"
	"github.com/outboxkit/core/ownertoken"
	"github.com/outboxkit/core/store"

	"github.com/google/uuid"
)

// StoreFactory turns a store.Handle into the inbox Store backing it -
// typically sqlinbox.NewStore(h.DB).
type StoreFactory func(h *store.Handle) Store

// DispatcherConfig tunes RunOnce/the background loop.
type DispatcherConfig struct {
	BatchSize   int
	LeaseTime   time.Duration
	MaxAttempts uint32
	Backoff     backoff.Policy

	// LeaseName, if non-empty, causes RunOnce to acquire a per-store lease
	// named fmt.Sprintf("%s:%s", LeaseName, store.Identifier) before
	// claiming, skipping the tenant for this tick if unavailable (spec.md
	// §4.4 step 2). Leave empty to claim unconditionally (single-writer
	// deployments where the DB's own row locking is enough).
	LeaseName     string
	LeaseDuration time.Duration

	// Concurrency is the number of handler goroutines processing claimed
	// messages in parallel, mirroring the teacher Worker's pool. Defaults
	// to BatchSize when zero.
	Concurrency int
	// Queue is the internal buffering capacity between claiming and
	// dispatching, mirroring the teacher WorkerConfig.Queue. Defaults to
	// BatchSize when zero.
	Queue int
}

// claimedMessage pairs a claimed row with the store that claimed it, so the
// WorkerPool's single-type-parameter handler can finalize against the
// right store even though RunOnce may visit a different store per tick.
type claimedMessage struct {
	store Store
	msg   *Message
}

// Dispatcher implements the six-step RunOnce algorithm of spec.md §4.4
// across a multi-store deployment: pick a store via a SelectionStrategy,
// optionally guard it with a lease, claim a batch, resolve each row's
// handler by topic, and finalize (Ack/Abandon/Fail) according to outcome.
type Dispatcher struct {
	lifecycle.Base

	provider store.Provider
	factory  StoreFactory
	strategy store.SelectionStrategy
	leases   lease.Factory // optional; nil disables per-tenant leasing
	resolver *HandlerResolver
	owner    ownertoken.Token
	cfg      DispatcherConfig
	log      *slog.Logger
	task     internal.TimerTask
	pool     *internal.WorkerPool[claimedMessage]

	lastProcessed int
}

// NewDispatcher constructs a Dispatcher. It is not started automatically.
func NewDispatcher(provider store.Provider, factory StoreFactory, strategy store.SelectionStrategy, leases lease.Factory, resolver *HandlerResolver, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.Default
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.Queue == 0 {
		cfg.Queue = cfg.BatchSize
	}
	return &Dispatcher{
		provider: provider,
		factory:  factory,
		strategy: strategy,
		leases:   leases,
		resolver: resolver,
		owner:    ownertoken.New(),
		cfg:      cfg,
		log:      log,
		pool:     internal.NewWorkerPool[claimedMessage](cfg.Concurrency, cfg.Queue, log),
	}
}

// RunOnce executes a single batch against the next selected store, per
// spec.md §4.4. Returns the number of rows claimed (0 if no store was
// selected, the store's lease was unavailable, or nothing was eligible).
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	stores, err := d.provider.Stores(ctx)
	if err != nil {
		return 0, fmt.Errorf("inbox: list stores: %w", err)
	}
	handle := d.strategy.Next(stores, d.lastProcessed)
	if handle == nil {
		return 0, nil
	}

	var held *lease.Lease
	if d.leases != nil && d.cfg.LeaseName != "" {
		held, err = d.leases.Acquire(ctx, fmt.Sprintf("%s:%s", d.cfg.LeaseName, handle.Identifier), d.cfg.LeaseDuration, nil)
		if errors.Is(err, lease.ErrNotAcquired) {
			d.lastProcessed = 0
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("inbox: acquire lease: %w", err)
		}
		defer held.Dispose(ctx)
	}

	st := d.factory(handle)
	msgs, err := st.Claim(ctx, d.owner, d.cfg.BatchSize, d.cfg.LeaseTime)
	if err != nil {
		return 0, fmt.Errorf("inbox: claim: %w", err)
	}

	// RunOnce is callable standalone (spec.md §4.4's explicit six-step
	// algorithm), in which case there is no pool to dispatch into; route
	// through it only when the background loop (Start) is driving calls,
	// mirroring the teacher Worker's pull/pool split.
	if d.Running() {
		for _, m := range msgs {
			if !d.pool.Push(claimedMessage{store: st, msg: m}) {
				d.log.Debug("inbox: message push interrupted via shutdown", "id", m.Id)
				break
			}
		}
	} else {
		for _, m := range msgs {
			d.process(ctx, st, m)
		}
	}
	d.lastProcessed = len(msgs)
	return len(msgs), nil
}

func (d *Dispatcher) handle(ctx context.Context, cm claimedMessage) {
	d.process(ctx, cm.store, cm.msg)
}

func (d *Dispatcher) process(ctx context.Context, st Store, m *Message) {
	handler, ok := d.resolver.GetHandler(m.Topic)
	if !ok {
		if err := st.Fail(ctx, d.owner, []uuid.UUID{m.Id}, "no handler for topic"); err != nil {
			d.log.Error("inbox: fail (no handler) failed", "id", m.Id, "error", err)
		}
		return
	}

	env := &message.Envelope{Id: m.Id, Topic: m.Topic, Payload: m.Payload}
	err := handler(ctx, env)
	if err == nil {
		if err := st.Ack(ctx, d.owner, []uuid.UUID{m.Id}); err != nil {
			d.log.Error("inbox: ack failed", "id", m.Id, "error", err)
		}
		return
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	if errors.Is(err, ErrPermanent) {
		if err := st.Fail(ctx, d.owner, []uuid.UUID{m.Id}, err.Error()); err != nil {
			d.log.Error("inbox: fail failed", "id", m.Id, "error", err)
		}
		return
	}
	if d.cfg.MaxAttempts > 0 && m.RetryCount >= d.cfg.MaxAttempts {
		if err := st.Fail(ctx, d.owner, []uuid.UUID{m.Id}, "Maximum retry attempts exceeded"); err != nil {
			d.log.Error("inbox: fail (max attempts) failed", "id", m.Id, "error", err)
		}
		return
	}
	delay := d.cfg.Backoff.Next(m.RetryCount)
	if err := st.Abandon(ctx, d.owner, []uuid.UUID{m.Id}, err.Error(), delay); err != nil {
		d.log.Error("inbox: abandon failed", "id", m.Id, "error", err)
	}
}

// Start begins a background loop calling RunOnce every interval,
// dispatching claimed messages through the concurrent WorkerPool.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) error {
	if err := d.TryStart(); err != nil {
		return err
	}
	d.pool.Start(ctx, d.handle)
	d.task.Start(ctx, func(tickCtx context.Context) {
		if _, err := d.RunOnce(tickCtx); err != nil {
			d.log.Error("inbox: run once failed", "error", err)
		}
	}, interval)
	return nil
}

func (d *Dispatcher) doStop() internal.DoneChan {
	first := d.task.Stop()
	second := d.pool.Stop()
	return internal.Combine(first, second)
}

// Stop terminates the background loop, waiting up to timeout.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	return d.TryStop(timeout, d.doStop)
}
