package outbox_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/outboxkit/core/message"
	"github.com/outboxkit/core/outbox"
	"github.com/outboxkit/core/outbox/sqloutbox"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

func newTestService(t *testing.T) (*bun.DB, *outbox.Service) {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	if err := sqloutbox.InitDB(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	st := sqloutbox.NewStore(db)
	return db, outbox.New(db, st, st)
}

type recordingHandler struct {
	topic string
	mu    sync.Mutex
	seen  []string
	fail  error
}

func (h *recordingHandler) Topic() string { return h.topic }

func (h *recordingHandler) Handle(ctx context.Context, env *message.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, string(env.Payload))
	return h.fail
}

func TestHandlerRegistryRegisterAndGet(t *testing.T) {
	reg := outbox.NewHandlerRegistry()
	h := &recordingHandler{topic: "widget.created"}
	reg.Register(h)

	got, ok := reg.Get("widget.created")
	if !ok || got != h {
		t.Fatalf("expected to resolve the registered handler, got %v %v", got, ok)
	}
	if _, ok := reg.Get("unknown"); ok {
		t.Fatal("expected unregistered topic to not resolve")
	}
}

func TestDispatchLoopAcksOnSuccessfulHandle(t *testing.T) {
	db, svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, "widget.created", []byte("hello"), nil, "", nil); err != nil {
		t.Fatal(err)
	}

	handler := &recordingHandler{topic: "widget.created"}
	handlers := outbox.NewHandlerRegistry()
	handlers.Register(handler)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	loop := outbox.NewDispatchLoop(svc, handlers, outbox.LoopConfig{BatchSize: 10, PollInterval: 20 * time.Millisecond, LeaseTime: 10 * time.Second, MaxAttempts: 5}, log)

	if err := loop.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { loop.Stop(time.Second) })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		handler.mu.Lock()
		n := len(handler.seen)
		handler.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	handler.mu.Lock()
	seen := append([]string(nil), handler.seen...)
	handler.mu.Unlock()
	if len(seen) != 1 || seen[0] != "hello" {
		t.Fatalf("expected handler to process exactly the enqueued message, got %v", seen)
	}

	count, err := db.NewSelect().Table("outbox_messages").Where("status = ?", 2 /* wq.Done */).Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected the message to be acked Done, got %d rows", count)
	}
}

func TestDispatchLoopFailsOnNoHandlerForTopic(t *testing.T) {
	db, svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, "unknown.topic", []byte("x"), nil, "", nil); err != nil {
		t.Fatal(err)
	}

	handlers := outbox.NewHandlerRegistry()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	loop := outbox.NewDispatchLoop(svc, handlers, outbox.LoopConfig{BatchSize: 10, PollInterval: 20 * time.Millisecond, LeaseTime: 10 * time.Second, MaxAttempts: 5}, log)

	if err := loop.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { loop.Stop(time.Second) })

	var failed int
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := db.NewSelect().Table("outbox_messages").Where("status = ?", 3 /* wq.Failed */).Count(ctx)
		if err != nil {
			t.Fatal(err)
		}
		failed = n
		if failed == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if failed != 1 {
		t.Fatalf("expected the message with no registered handler to be failed, got %d failed rows", failed)
	}
}

func TestEnqueueTxParticipatesInCallerTransaction(t *testing.T) {
	db, svc := newTestService(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EnqueueTx(ctx, tx, "widget.created", []byte("rolled-back"), nil, "", nil); err != nil {
		t.Fatal(err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	count, err := db.NewSelect().Table("outbox_messages").Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to discard the enqueued message, got %d rows", count)
	}
}

func TestErrPermanentIsDetectableWhenWrapped(t *testing.T) {
	if !errors.Is(fmt.Errorf("wrap: %w", outbox.ErrPermanent), outbox.ErrPermanent) {
		t.Fatal("expected ErrPermanent to remain errors.Is-detectable when wrapped")
	}
}
