package sqllease_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/outboxkit/core/lease"
	"github.com/outboxkit/core/lease/sqllease"
)

func TestAcquireFreshResource(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := sqllease.NewFactory(db, discardLogger())

	l, err := f.Acquire(ctx, "shard-0", time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Dispose(ctx)

	if l.FencingToken != 1 {
		t.Fatalf("expected fencing token 1, got %d", l.FencingToken)
	}
	if l.OwnerToken.Nil() {
		t.Fatal("expected non-nil owner token")
	}
}

func TestAcquireHeldResourceFails(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := sqllease.NewFactory(db, discardLogger())

	l1, err := f.Acquire(ctx, "shard-0", time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l1.Dispose(ctx)

	_, err = f.Acquire(ctx, "shard-0", time.Minute, nil)
	if !errors.Is(err, lease.ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
}

func TestAcquireStealsExpiredLease(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := sqllease.NewFactory(db, discardLogger())

	// The first holder crashes: canceling its context stops its renewer
	// without releasing the row, so the 1ms lease simply runs out.
	holderCtx, crash := context.WithCancel(ctx)
	l1, err := f.Acquire(holderCtx, "shard-0", time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	crash()
	time.Sleep(10 * time.Millisecond)

	l2, err := f.Acquire(ctx, "shard-0", time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Dispose(ctx)

	if l2.FencingToken <= l1.FencingToken {
		t.Fatalf("expected fencing token to strictly increase, got %d after %d", l2.FencingToken, l1.FencingToken)
	}
	if l2.OwnerToken == l1.OwnerToken {
		t.Fatal("expected new owner token after steal")
	}
}

func TestDisposeReleasesResource(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	f := sqllease.NewFactory(db, discardLogger())

	l1, err := f.Acquire(ctx, "shard-0", time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	l1.Dispose(ctx)

	l2, err := f.Acquire(ctx, "shard-0", time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l2.Dispose(ctx)

	if l2.FencingToken != 2 {
		t.Fatalf("expected fencing token 2 after release+reacquire, got %d", l2.FencingToken)
	}
}
