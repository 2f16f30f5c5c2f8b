// Package inbox provides idempotent ingestion of inbound messages keyed by
// (Source, MessageId), plus the work-queue discipline that drives handler
// execution, retry-with-backoff, and dead-lettering.
package inbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/wq"
)

// Status values specific to inbox, spelled out in spec.md §3 under their own
// names even though they share wq's numeric codes: Seen==wq.Ready,
// Processing==wq.InProgress, Done==wq.Done, Dead==wq.Failed.
const (
	Seen       = wq.Ready
	Processing = wq.InProgress
	Done       = wq.Done
	Dead       = wq.Failed
)

// Message is one row of the inbox queue (spec.md §3, InboxMessage).
type Message struct {
	Id uuid.UUID // surrogate key; (Source, MessageId) is the idempotency key

	Source    string
	Topic     string
	MessageId string
	Payload   []byte
	Hash      *string

	FirstSeenUtc time.Time
	LastSeenUtc  time.Time
	DueTimeUtc   *time.Time

	wq.State
}
