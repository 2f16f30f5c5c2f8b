package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/outboxkit/core/backoff"
	"github.com/outboxkit/core/internal"
	"github.com/outboxkit/core/lifecycle"
	"github.com/outboxkit/core/message"
	"github.com/outboxkit/core/ownertoken"

	"github.com/google/uuid"
)

// LoopConfig tunes a DispatchLoop.
type LoopConfig struct {
	BatchSize    int
	PollInterval time.Duration
	LeaseTime    time.Duration
	MaxAttempts  uint32
	Backoff      backoff.Policy

	// Concurrency is the number of handler goroutines processing claimed
	// messages in parallel, mirroring the teacher Worker's pool. Defaults
	// to BatchSize when zero.
	Concurrency int
	// Queue is the internal buffering capacity between claiming and
	// dispatching, mirroring the teacher WorkerConfig.Queue. Defaults to
	// BatchSize when zero.
	Queue int
}

// DispatchLoop periodically claims a batch of Ready outbox messages and
// routes each to the handler registered for its topic, mirroring the
// teacher queue library's Worker pull/dispatch/finalize cycle but against
// outbox.Service instead of a single hand-written Puller, and against a
// topic-routed handler table instead of one fixed MessageHandler. As in
// the teacher, claiming and handling run on separate schedules: tick pulls
// a batch and pushes each message onto a WorkerPool, which dispatches them
// concurrently for the loop's entire lifetime.
type DispatchLoop struct {
	lifecycle.Base

	svc      *Service
	handlers *HandlerRegistry
	join     JoinStore
	log      *slog.Logger
	owner    ownertoken.Token
	cfg      LoopConfig
	task     internal.TimerTask
	pool     *internal.WorkerPool[*Message]
}

// NewDispatchLoop constructs a DispatchLoop. It is not started automatically.
func NewDispatchLoop(svc *Service, handlers *HandlerRegistry, cfg LoopConfig, log *slog.Logger) *DispatchLoop {
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.Default
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = cfg.BatchSize
	}
	if cfg.Queue == 0 {
		cfg.Queue = cfg.BatchSize
	}
	return &DispatchLoop{
		svc:      svc,
		handlers: handlers,
		log:      log,
		owner:    ownertoken.New(),
		cfg:      cfg,
		pool:     internal.NewWorkerPool[*Message](cfg.Concurrency, cfg.Queue, log),
	}
}

func (l *DispatchLoop) tick(ctx context.Context) {
	msgs, err := l.svc.Claim(ctx, l.owner, l.cfg.BatchSize, l.cfg.LeaseTime)
	if err != nil {
		l.log.Error("outbox: claim failed", "error", err)
		return
	}
	for _, m := range msgs {
		if !l.pool.Push(m) {
			l.log.Debug("outbox: message push interrupted via shutdown", "id", m.Id)
			return
		}
	}
}

func (l *DispatchLoop) process(ctx context.Context, m *Message) {
	handler, ok := l.handlers.Get(m.Topic)
	if !ok {
		if err := l.svc.Fail(ctx, l.owner, []uuid.UUID{m.Id}, "no handler for topic"); err != nil {
			l.log.Error("outbox: fail (no handler) failed", "id", m.Id, "error", err)
		}
		return
	}

	env := &message.Envelope{Id: m.Id, Topic: m.Topic, CorrelationId: m.CorrelationId, Payload: m.Payload}
	err := handler.Handle(ctx, env)
	if err == nil {
		if err := l.svc.Ack(ctx, l.owner, []uuid.UUID{m.Id}); err != nil {
			l.log.Error("outbox: ack failed", "id", m.Id, "error", err)
		}
		l.reportJoinOutcome(ctx, m.Id, true)
		return
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	if errors.Is(err, ErrPermanent) {
		if err := l.svc.Fail(ctx, l.owner, []uuid.UUID{m.Id}, err.Error()); err != nil {
			l.log.Error("outbox: fail failed", "id", m.Id, "error", err)
		}
		l.reportJoinOutcome(ctx, m.Id, false)
		return
	}
	if l.cfg.MaxAttempts > 0 && m.RetryCount >= l.cfg.MaxAttempts {
		if err := l.svc.Fail(ctx, l.owner, []uuid.UUID{m.Id}, "maximum retry attempts exceeded"); err != nil {
			l.log.Error("outbox: fail (max attempts) failed", "id", m.Id, "error", err)
		}
		l.reportJoinOutcome(ctx, m.Id, false)
		return
	}
	delay := l.cfg.Backoff.Next(m.RetryCount)
	if err := l.svc.Abandon(ctx, l.owner, []uuid.UUID{m.Id}, err.Error(), delay); err != nil {
		l.log.Error("outbox: abandon failed", "id", m.Id, "error", err)
	}
}

// WithJoinStore attaches the outbox sidecar tracking multi-message joins:
// every Ack/Fail of a claimed message reports its outcome to join so the
// aggregate JoinId counters advance (spec.md §4.3). Leave unset for
// deployments that never use joins.
func (l *DispatchLoop) WithJoinStore(join JoinStore) *DispatchLoop {
	l.join = join
	return l
}

func (l *DispatchLoop) reportJoinOutcome(ctx context.Context, id uuid.UUID, acked bool) {
	if l.join == nil {
		return
	}
	var err error
	if acked {
		_, err = l.join.OnAck(ctx, id)
	} else {
		_, err = l.join.OnFail(ctx, id)
	}
	if err != nil {
		l.log.Error("outbox: join outcome report failed", "id", id, "acked", acked, "error", err)
	}
}

// Start begins periodic claiming and concurrent dispatch.
func (l *DispatchLoop) Start(ctx context.Context) error {
	if err := l.TryStart(); err != nil {
		return err
	}
	l.pool.Start(ctx, l.process)
	l.task.Start(ctx, l.tick, l.cfg.PollInterval)
	return nil
}

func (l *DispatchLoop) doStop() internal.DoneChan {
	first := l.task.Stop()
	second := l.pool.Stop()
	return internal.Combine(first, second)
}

// Stop terminates the loop, waiting up to timeout.
func (l *DispatchLoop) Stop(timeout time.Duration) error {
	return l.TryStop(timeout, l.doStop)
}
