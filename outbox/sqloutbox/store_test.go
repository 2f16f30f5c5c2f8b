package sqloutbox_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/outbox"
	"github.com/outboxkit/core/outbox/sqloutbox"
	"github.com/outboxkit/core/ownertoken"
	"github.com/outboxkit/core/wq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *bun.DB {
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
	return db
}

func TestStoreClaimAckMarksDone(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqloutbox.NewStore(db)
	owner := ownertoken.New()

	due := time.Now().UTC().Add(-time.Second)
	msg := &outbox.Message{Id: uuid.New(), Topic: "widget.created", Payload: []byte("hi"), CreatedAt: time.Now().UTC(), DueTimeUtc: &due}
	if err := store.Enqueue(ctx, db, msg); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.Claim(ctx, owner, 10, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].Id != msg.Id {
		t.Fatalf("expected to claim the enqueued message, got %+v", claimed)
	}

	if err := store.Ack(ctx, owner, []uuid.UUID{msg.Id}); err != nil {
		t.Fatal(err)
	}

	n, err := store.Clean(ctx, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected Clean to remove the acked row, got %d", n)
	}
}

func TestStoreAbandonReturnsToReadyAfterDelay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqloutbox.NewStore(db)
	owner := ownertoken.New()

	due := time.Now().UTC().Add(-time.Second)
	msg := &outbox.Message{Id: uuid.New(), Topic: "widget.created", Payload: []byte("hi"), CreatedAt: time.Now().UTC(), DueTimeUtc: &due}
	if err := store.Enqueue(ctx, db, msg); err != nil {
		t.Fatal(err)
	}

	claimed, err := store.Claim(ctx, owner, 10, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected one claimed message, got %d", len(claimed))
	}

	if err := store.Abandon(ctx, owner, []uuid.UUID{msg.Id}, "transient", 0); err != nil {
		t.Fatal(err)
	}

	reclaimed, err := store.Claim(ctx, owner, 10, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(reclaimed) != 1 || reclaimed[0].RetryCount != 1 {
		t.Fatalf("expected the abandoned message to become claimable again with attempts bumped, got %+v", reclaimed)
	}
}

func TestStoreFailTerminatesRowAndCleanFiltersByStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqloutbox.NewStore(db)
	owner := ownertoken.New()

	due := time.Now().UTC().Add(-time.Second)
	msg := &outbox.Message{Id: uuid.New(), Topic: "widget.created", Payload: []byte("hi"), CreatedAt: time.Now().UTC(), DueTimeUtc: &due}
	if err := store.Enqueue(ctx, db, msg); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Claim(ctx, owner, 10, 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(ctx, owner, []uuid.UUID{msg.Id}, "permanent"); err != nil {
		t.Fatal(err)
	}

	done := wq.Done
	n, err := store.Clean(ctx, &done, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected Clean filtered to Done to leave the Failed row alone, got %d removed", n)
	}

	failed := wq.Failed
	n, err = store.Clean(ctx, &failed, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected Clean filtered to Failed to remove the row, got %d removed", n)
	}
}

func TestStoreReapExpiredReturnsExpiredLeaseToReady(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqloutbox.NewStore(db)
	owner := ownertoken.New()

	due := time.Now().UTC().Add(-time.Second)
	msg := &outbox.Message{Id: uuid.New(), Topic: "widget.created", Payload: []byte("hi"), CreatedAt: time.Now().UTC(), DueTimeUtc: &due}
	if err := store.Enqueue(ctx, db, msg); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Claim(ctx, owner, 10, -time.Second); err != nil {
		t.Fatal(err)
	}

	n, err := store.ReapExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected ReapExpired to reclaim the expired lease, got %d", n)
	}

	reclaimed, err := store.Claim(ctx, ownertoken.New(), 10, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(reclaimed) != 1 {
		t.Fatalf("expected the reaped row to be claimable again, got %d", len(reclaimed))
	}
}
