// Package sqlinbox implements inbox.Store against a bun-backed
// inbox_messages table, generalizing the teacher queue library's per-table
// SQL through the shared wq/sqlwq engine, the same way sqloutbox does for
// the outbox table.
package sqlinbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/inbox"
	"github.com/outboxkit/core/ownertoken"
	"github.com/outboxkit/core/wq"
	"github.com/uptrace/bun"
)

type inboxModel struct {
	bun.BaseModel `bun:"table:inbox_messages"`

	Id        uuid.UUID `bun:"id,pk,type:uuid"`
	Source    string    `bun:"source,notnull"`
	Topic     string    `bun:"topic,notnull"`
	MessageId string    `bun:"message_id,notnull"`
	Payload   []byte    `bun:"payload"`
	Hash      *string   `bun:"hash,nullzero"`

	FirstSeenUtc time.Time  `bun:"first_seen_utc,notnull,default:current_timestamp"`
	LastSeenUtc  time.Time  `bun:"last_seen_utc,notnull,default:current_timestamp"`
	DueTimeUtc   *time.Time `bun:"due_time_utc,nullzero"`

	Status      wq.Status         `bun:"status,notnull,default:0"`
	Attempts    uint32            `bun:"attempts,notnull,default:0"`
	LastError   string            `bun:"last_error,nullzero"`
	LockedUntil *time.Time        `bun:"locked_until,nullzero"`
	OwnerToken  *ownertoken.Token `bun:"owner_token,type:uuid,nullzero"`
}

func toDomain(m *inboxModel) *inbox.Message {
	return &inbox.Message{
		Id:           m.Id,
		Source:       m.Source,
		Topic:        m.Topic,
		MessageId:    m.MessageId,
		Payload:      m.Payload,
		Hash:         m.Hash,
		FirstSeenUtc: m.FirstSeenUtc,
		LastSeenUtc:  m.LastSeenUtc,
		DueTimeUtc:   m.DueTimeUtc,
		State: wq.State{
			Status:      m.Status,
			RetryCount:  m.Attempts,
			LastError:   m.LastError,
			LockedUntil: m.LockedUntil,
			OwnerToken:  m.OwnerToken,
		},
	}
}
