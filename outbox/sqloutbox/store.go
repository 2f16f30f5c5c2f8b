package sqloutbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/outbox"
	"github.com/outboxkit/core/ownertoken"
	"github.com/outboxkit/core/wq"
	"github.com/outboxkit/core/wq/sqlwq"
	"github.com/uptrace/bun"
)

var rowConfig = sqlwq.RowConfig{
	NewModel:          func() any { return (*outboxModel)(nil) },
	IDColumn:          "id",
	StatusColumn:      "status",
	OwnerColumn:       "owner_token",
	LockedColumn:      "locked_until",
	AttemptsColumn:    "attempts",
	LastErrorColumn:   "last_error",
	DueColumn:         "due_time_utc",
	UpdatedColumn:     "updated_at",
	ProcessedAtColumn: "processed_at",
	ProcessedByColumn: "processed_by",
	OrderColumns:      []string{"due_time_utc", "created_at"},
	DoneStatus:        wq.Done,
	FailedStatus:      wq.Failed,
}

// Store implements outbox.Enqueuer and wq.Claimer[*outbox.Message] against
// a bun-backed outbox_messages table, using the shared wq/sqlwq engine for
// every row transition.
type Store struct {
	db *bun.DB
}

// NewStore constructs a Store. Call InitDB once before using it.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

var _ outbox.Enqueuer = (*Store)(nil)
var _ wq.Claimer[*outbox.Message] = (*Store)(nil)

// Enqueue implements outbox.Enqueuer, inserting through db so callers can
// pass their own *bun.Tx to participate in a surrounding transaction.
func (s *Store) Enqueue(ctx context.Context, db bun.IDB, msg *outbox.Message) error {
	row := &outboxModel{
		Id:            msg.Id,
		Topic:         msg.Topic,
		Payload:       msg.Payload,
		CorrelationId: msg.CorrelationId,
		MessageId:     msg.MessageId,
		CreatedAt:     msg.CreatedAt,
		UpdatedAt:     msg.CreatedAt,
		DueTimeUtc:    msg.DueTimeUtc,
		Status:        wq.Ready,
	}
	_, err := db.NewInsert().Model(row).Exec(ctx)
	return err
}

// Claim implements wq.Claimer.Claim.
func (s *Store) Claim(ctx context.Context, owner ownertoken.Token, batch int, lease time.Duration) ([]*outbox.Message, error) {
	rows, err := sqlwq.Claim[*outboxModel](ctx, s.db, rowConfig, owner, batch, lease)
	if err != nil {
		return nil, err
	}
	ret := make([]*outbox.Message, len(rows))
	for i, r := range rows {
		ret[i] = toDomain(r)
	}
	return ret, nil
}

// Ack implements wq.Claimer.Ack.
func (s *Store) Ack(ctx context.Context, owner ownertoken.Token, ids []uuid.UUID) error {
	return sqlwq.Ack(ctx, s.db, rowConfig, owner, ids)
}

// Abandon implements wq.Claimer.Abandon.
func (s *Store) Abandon(ctx context.Context, owner ownertoken.Token, ids []uuid.UUID, lastErr string, delay time.Duration) error {
	return sqlwq.Abandon(ctx, s.db, rowConfig, owner, ids, lastErr, delay)
}

// Fail implements wq.Claimer.Fail.
func (s *Store) Fail(ctx context.Context, owner ownertoken.Token, ids []uuid.UUID, reason string) error {
	return sqlwq.Fail(ctx, s.db, rowConfig, owner, ids, reason)
}

// ReapExpired implements wq.Claimer.ReapExpired.
func (s *Store) ReapExpired(ctx context.Context) (int64, error) {
	return sqlwq.ReapExpired(ctx, s.db, rowConfig)
}

// Clean deletes terminal outbox rows, satisfying retention.Cleaner.
func (s *Store) Clean(ctx context.Context, status *wq.Status, before *time.Time) (int64, error) {
	var statusFilter *int
	if status != nil {
		v := int(*status)
		statusFilter = &v
	}
	return sqlwq.Clean(ctx, s.db, rowConfig, statusFilter, before)
}
