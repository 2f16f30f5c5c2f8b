package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/message"
	"github.com/outboxkit/core/wq"
	"github.com/uptrace/bun"
)

// ErrPermanent is the sentinel an OutboxHandler returns to request an
// immediate, non-retried Fail instead of the usual Abandon-with-backoff
// path - the Go shape of spec.md §9's "thrown control flow... expressed as
// tagged result... via an explicit check" for PermanentFailure.
var ErrPermanent = errors.New("outbox: permanent handler failure")

// Handler processes one claimed outbox message. Returning nil acks the
// message; returning an error wrapping ErrPermanent fails it immediately;
// any other error abandons it for retry with backoff.
type Handler interface {
	Topic() string
	Handle(ctx context.Context, env *message.Envelope) error
}

// Enqueuer is the write-side store contract Service.Enqueue delegates to.
// db is always explicit - the caller's own *bun.Tx when the enqueue must
// participate in a surrounding business transaction, or the Service's
// default *bun.DB otherwise - so one code path serves both cases, per
// SPEC_FULL.md §2.1's bun.IDB convention.
type Enqueuer interface {
	Enqueue(ctx context.Context, db bun.IDB, msg *Message) error
}

// Service composes the enqueue side with the generic wq.Claimer[*Message]
// row discipline, giving callers Enqueue plus Claim/Ack/Abandon/Fail/
// ReapExpired against the same backing table.
type Service struct {
	Enqueuer
	wq.Claimer[*Message]
	db bun.IDB
}

// New constructs a Service. db is the default connection used by Enqueue
// when the caller does not supply its own transaction via EnqueueTx.
func New(db bun.IDB, enqueuer Enqueuer, claimer wq.Claimer[*Message]) *Service {
	return &Service{Enqueuer: enqueuer, Claimer: claimer, db: db}
}

// Enqueue appends a Ready message using the Service's default connection.
// correlationId and dueTimeUtc are optional. messageId, if non-empty, is
// stored as an idempotency hint, but - unlike Inbox.Enqueue - outbox
// enqueue performs no dedup of its own: the caller's surrounding
// transaction (see EnqueueTx) is the durability guarantee spec.md §4.3
// relies on ("the message is visible to Claim iff the caller's
// transaction commits").
func (s *Service) Enqueue(ctx context.Context, topic string, payload []byte, correlationId *uuid.UUID, messageId string, dueTimeUtc *time.Time) (uuid.UUID, error) {
	return s.EnqueueTx(ctx, s.db, topic, payload, correlationId, messageId, dueTimeUtc)
}

// EnqueueTx appends a Ready message as part of the caller-supplied
// transaction tx, so it commits or rolls back atomically with whatever
// business-state change tx also contains.
func (s *Service) EnqueueTx(ctx context.Context, tx bun.IDB, topic string, payload []byte, correlationId *uuid.UUID, messageId string, dueTimeUtc *time.Time) (uuid.UUID, error) {
	msg := &Message{
		Id:            uuid.New(),
		Topic:         topic,
		Payload:       payload,
		CorrelationId: correlationId,
		CreatedAt:     time.Now().UTC(),
		DueTimeUtc:    dueTimeUtc,
	}
	if messageId != "" {
		msg.MessageId = &messageId
	}
	if err := s.Enqueuer.Enqueue(ctx, tx, msg); err != nil {
		return uuid.Nil, err
	}
	return msg.Id, nil
}
