// Package sqloutbox implements outbox.Enqueuer, wq.Claimer[*outbox.Message]
// and outbox.JoinStore against bun-backed tables, generalizing the teacher
// queue library's sql/model.go + sql/puller.go pair through the shared
// wq/sqlwq engine instead of hand-writing the outbox table's SQL a second
// time.
package sqloutbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/outbox"
	"github.com/outboxkit/core/ownertoken"
	"github.com/outboxkit/core/wq"
	"github.com/uptrace/bun"
)

type outboxModel struct {
	bun.BaseModel `bun:"table:outbox_messages"`

	Id            uuid.UUID  `bun:"id,pk,type:uuid"`
	Topic         string     `bun:"topic,notnull"`
	Payload       []byte     `bun:"payload"`
	CorrelationId *uuid.UUID `bun:"correlation_id,type:uuid,nullzero"`
	MessageId     *string    `bun:"message_id,nullzero"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	DueTimeUtc    *time.Time `bun:"due_time_utc,nullzero"`

	Status      wq.Status         `bun:"status,notnull,default:0"`
	Attempts    uint32            `bun:"attempts,notnull,default:0"`
	LastError   string            `bun:"last_error,nullzero"`
	LockedUntil *time.Time        `bun:"locked_until,nullzero"`
	OwnerToken  *ownertoken.Token `bun:"owner_token,type:uuid,nullzero"`

	ProcessedAt *time.Time        `bun:"processed_at,nullzero"`
	ProcessedBy *ownertoken.Token `bun:"processed_by,type:uuid,nullzero"`
}

func toDomain(m *outboxModel) *outbox.Message {
	return &outbox.Message{
		Id:            m.Id,
		Topic:         m.Topic,
		Payload:       m.Payload,
		CorrelationId: m.CorrelationId,
		MessageId:     m.MessageId,
		CreatedAt:     m.CreatedAt,
		DueTimeUtc:    m.DueTimeUtc,
		State: wq.State{
			Status:      m.Status,
			RetryCount:  m.Attempts,
			LastError:   m.LastError,
			LockedUntil: m.LockedUntil,
			OwnerToken:  m.OwnerToken,
		},
		ProcessedAt: m.ProcessedAt,
		ProcessedBy: m.ProcessedBy,
	}
}
