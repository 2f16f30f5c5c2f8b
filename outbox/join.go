package outbox

import (
	"context"

	"github.com/google/uuid"
)

// JoinStatus is the aggregate lifecycle of a JoinStore record: Pending
// while steps remain in flight, Completed once every member has Acked with
// no failures, Failed as soon as any member has terminally Failed.
type JoinStatus uint8

const (
	JoinPending JoinStatus = iota
	JoinCompleted
	JoinFailed
)

func (s JoinStatus) String() string {
	switch s {
	case JoinPending:
		return "Pending"
	case JoinCompleted:
		return "Completed"
	case JoinFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Join is the aggregate counter row a JoinStore maintains for one JoinId:
// a group of outbox messages whose individual Ack/Fail outcomes roll up
// into a single overall status (spec.md §4.3).
type Join struct {
	JoinId         uuid.UUID
	ExpectedSteps  int
	CompletedSteps int
	FailedSteps    int
	Status         JoinStatus
}

// JoinStore is the optional outbox sidecar mapping JoinId to its member
// messages and aggregate counters. Ack/Fail of a member message increments
// the matching counter exactly once, even if called more than once for the
// same message (idempotent per spec.md §4.3 and §8's round-trip law).
type JoinStore interface {
	// CreateJoin registers joinId with expectedSteps members, each
	// identified by one of memberMessageIds.
	CreateJoin(ctx context.Context, joinId uuid.UUID, memberMessageIds []uuid.UUID) error

	// OnAck records that outboxMessageId (a member of some join) finished
	// successfully, incrementing CompletedSteps at most once for that
	// member. Returns the join's state after the update, or (nil, nil) if
	// outboxMessageId is not a member of any join.
	OnAck(ctx context.Context, outboxMessageId uuid.UUID) (*Join, error)

	// OnFail records that outboxMessageId's member failed, incrementing
	// FailedSteps at most once for that member. Returns the join's state
	// after the update, or (nil, nil) if outboxMessageId is not a member
	// of any join.
	OnFail(ctx context.Context, outboxMessageId uuid.UUID) (*Join, error)

	// Get returns the current aggregate state for joinId.
	Get(ctx context.Context, joinId uuid.UUID) (*Join, error)
}
