// Package outbox provides durable, transactional enqueue of outbound
// messages and the work-queue discipline (via wq.Claimer) that lets
// background workers claim, dispatch, and finalize them.
//
// A Message is inserted by business code inside the same database
// transaction as the state change it announces, so the two either both
// commit or both roll back. A separate dispatch loop (outbox.DispatchLoop,
// driven by Service.Claim/Ack/Abandon/Fail) later delivers it to an
// OutboxHandler at least once.
package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/ownertoken"
	"github.com/outboxkit/core/wq"
)

// Message is one row of the outbox queue (spec.md §3, OutboxMessage).
type Message struct {
	Id            uuid.UUID
	Topic         string
	Payload       []byte
	CorrelationId *uuid.UUID
	MessageId     *string // idempotency key, optional
	CreatedAt     time.Time
	DueTimeUtc    *time.Time

	wq.State

	ProcessedAt *time.Time
	ProcessedBy *ownertoken.Token
}
