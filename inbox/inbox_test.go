package inbox_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/outboxkit/core/inbox"
	"github.com/outboxkit/core/inbox/sqlinbox"
	"github.com/outboxkit/core/message"
	"github.com/outboxkit/core/store"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

func newTestHandle(t *testing.T) *store.Handle {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	if err := sqlinbox.InitDB(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	return &store.Handle{Identifier: "primary", DB: db}
}

func TestEnqueueIsIdempotentOnSourceAndMessageID(t *testing.T) {
	handle := newTestHandle(t)
	ctx := context.Background()
	st := sqlinbox.NewStore(handle.DB)

	already, err := st.Enqueue(ctx, "order.created", "orders-svc", "msg-1", []byte("first"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if already {
		t.Fatal("expected first enqueue to not be already-seen")
	}

	already, err = st.Enqueue(ctx, "order.created", "orders-svc", "msg-1", []byte("second"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !already {
		t.Fatal("expected re-enqueue of the same (source, messageId) to be a no-op")
	}

	seen, err := st.AlreadyProcessed(ctx, "orders-svc", "msg-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !seen {
		t.Fatal("expected AlreadyProcessed to report true")
	}
}

func TestHandlerResolverRegisterAndGet(t *testing.T) {
	r := inbox.NewHandlerResolver()
	r.Register("order.created", func(ctx context.Context, env *message.Envelope) error { return nil })
	if _, ok := r.GetHandler("order.created"); !ok {
		t.Fatal("expected handler to resolve after Register")
	}
	if _, ok := r.GetHandler("unregistered"); ok {
		t.Fatal("expected unregistered topic to not resolve")
	}
}

func TestDispatcherRunOnceProcessesClaimedMessages(t *testing.T) {
	handle := newTestHandle(t)
	ctx := context.Background()
	st := sqlinbox.NewStore(handle.DB)
	if _, err := st.Enqueue(ctx, "order.created", "orders-svc", "msg-1", []byte("payload"), nil, nil); err != nil {
		t.Fatal(err)
	}

	provider := store.NewStaticProvider(handle)
	resolver := inbox.NewHandlerResolver()
	var handled []byte
	resolver.Register("order.created", func(ctx context.Context, env *message.Envelope) error {
		handled = env.Payload
		return nil
	})

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := inbox.NewDispatcher(provider, func(h *store.Handle) inbox.Store { return sqlinbox.NewStore(h.DB) }, &store.RoundRobin{}, nil, resolver, inbox.DispatcherConfig{BatchSize: 10, LeaseTime: 10 * time.Second, MaxAttempts: 5}, log)

	n, err := d.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected to process exactly one message, got %d", n)
	}
	if string(handled) != "payload" {
		t.Fatalf("unexpected handled payload %q", handled)
	}
}
