package sqloutbox_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/outboxkit/core/outbox"
	"github.com/outboxkit/core/outbox/sqloutbox"
)

func TestJoinStoreCompletesOnceEveryMemberAcks(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqloutbox.NewJoinStore(db)

	joinId := uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New()}
	if err := store.CreateJoin(ctx, joinId, members); err != nil {
		t.Fatal(err)
	}

	join, err := store.OnAck(ctx, members[0])
	if err != nil {
		t.Fatal(err)
	}
	if join.Status != outbox.JoinPending || join.CompletedSteps != 1 {
		t.Fatalf("expected join to remain pending after one of two members acks, got %+v", join)
	}

	join, err = store.OnAck(ctx, members[1])
	if err != nil {
		t.Fatal(err)
	}
	if join.Status != outbox.JoinCompleted || join.CompletedSteps != 2 {
		t.Fatalf("expected join to complete once every member acks, got %+v", join)
	}
}

func TestJoinStoreFailsWhenAnyMemberFails(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqloutbox.NewJoinStore(db)

	joinId := uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New()}
	if err := store.CreateJoin(ctx, joinId, members); err != nil {
		t.Fatal(err)
	}

	if _, err := store.OnAck(ctx, members[0]); err != nil {
		t.Fatal(err)
	}
	join, err := store.OnFail(ctx, members[1])
	if err != nil {
		t.Fatal(err)
	}
	if join.Status != outbox.JoinFailed || join.FailedSteps != 1 {
		t.Fatalf("expected one failed member to fail the whole join, got %+v", join)
	}
}

func TestJoinStoreOnAckIsIdempotentPerMember(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqloutbox.NewJoinStore(db)

	joinId := uuid.New()
	members := []uuid.UUID{uuid.New()}
	if err := store.CreateJoin(ctx, joinId, members); err != nil {
		t.Fatal(err)
	}

	if _, err := store.OnAck(ctx, members[0]); err != nil {
		t.Fatal(err)
	}
	join, err := store.OnAck(ctx, members[0])
	if err != nil {
		t.Fatal(err)
	}
	if join.CompletedSteps != 1 {
		t.Fatalf("expected a repeated OnAck for the same member to not double-count, got %+v", join)
	}
}

func TestJoinStoreOnAckForUnknownMemberIsNoop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqloutbox.NewJoinStore(db)

	join, err := store.OnAck(ctx, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if join != nil {
		t.Fatalf("expected OnAck for a message not part of any join to return nil, got %+v", join)
	}
}

func TestJoinStoreGetReturnsNilForUnknownJoin(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := sqloutbox.NewJoinStore(db)

	join, err := store.Get(ctx, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if join != nil {
		t.Fatalf("expected Get for an unknown join to return nil, got %+v", join)
	}
}
