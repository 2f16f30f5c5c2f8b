package sqlinbox

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/inbox"
	"github.com/outboxkit/core/ownertoken"
	"github.com/outboxkit/core/wq"
	"github.com/outboxkit/core/wq/sqlwq"
	"github.com/uptrace/bun"
)

var rowConfig = sqlwq.RowConfig{
	NewModel:        func() any { return (*inboxModel)(nil) },
	IDColumn:        "id",
	StatusColumn:    "status",
	OwnerColumn:     "owner_token",
	LockedColumn:    "locked_until",
	AttemptsColumn:  "attempts",
	LastErrorColumn: "last_error",
	DueColumn:       "due_time_utc",
	UpdatedColumn:   "last_seen_utc",
	OrderColumns:    []string{"due_time_utc", "first_seen_utc"},
	DoneStatus:      inbox.Done,
	FailedStatus:    inbox.Dead,
}

// Store implements inbox.Store against a bun-backed inbox_messages table.
type Store struct {
	db *bun.DB
}

// NewStore constructs a Store. Call InitDB once before using it.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

var _ inbox.Store = (*Store)(nil)

// Enqueue implements inbox.Store.Enqueue: idempotent insert keyed on
// (source, message_id). On collision the existing row is left untouched
// and alreadySeen is true, matching spec.md §4.4 ("re-enqueue of the same
// (Source,MessageId) is a no-op").
func (s *Store) Enqueue(ctx context.Context, topic, source, messageId string, payload []byte, hash *string, dueTimeUtc *time.Time) (bool, error) {
	now := time.Now().UTC()
	row := &inboxModel{
		Id:           uuid.New(),
		Source:       source,
		Topic:        topic,
		MessageId:    messageId,
		Payload:      payload,
		Hash:         hash,
		FirstSeenUtc: now,
		LastSeenUtc:  now,
		DueTimeUtc:   dueTimeUtc,
		Status:       wq.Ready,
	}
	res, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (source, message_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// AlreadyProcessed implements inbox.Store.AlreadyProcessed.
func (s *Store) AlreadyProcessed(ctx context.Context, source, messageId string, hash *string) (bool, error) {
	q := s.db.NewSelect().
		Model((*inboxModel)(nil)).
		Where("source = ?", source).
		Where("message_id = ?", messageId)
	if hash != nil {
		q = q.Where("hash = ?", *hash)
	}
	exists, err := q.Exists(ctx)
	return exists, err
}

// Get implements inbox.Store.Get.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*inbox.Message, error) {
	var row inboxModel
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toDomain(&row), nil
}

// Revive implements inbox.Store.Revive: only Dead -> Seen, never touching
// rows in any other status.
func (s *Store) Revive(ctx context.Context, ids []uuid.UUID, reason string, delay time.Duration) error {
	if len(ids) == 0 {
		return nil
	}
	if delay < 0 {
		return wq.ErrNegativeDelay
	}
	now := time.Now().UTC()
	q := s.db.NewUpdate().
		Model((*inboxModel)(nil)).
		Set("status = ?", wq.Ready).
		Set("due_time_utc = ?", now.Add(delay)).
		Set("last_seen_utc = ?", now).
		Set("owner_token = NULL").
		Set("locked_until = NULL")
	if reason != "" {
		q = q.Set("last_error = ?", reason)
	}
	q = q.Where("id IN (?)", bun.In(ids)).Where("status = ?", wq.Failed)
	_, err := q.Exec(ctx)
	return err
}

// Claim implements wq.Claimer.Claim.
func (s *Store) Claim(ctx context.Context, owner ownertoken.Token, batch int, lease time.Duration) ([]*inbox.Message, error) {
	rows, err := sqlwq.Claim[*inboxModel](ctx, s.db, rowConfig, owner, batch, lease)
	if err != nil {
		return nil, err
	}
	ret := make([]*inbox.Message, len(rows))
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

// Fail implements wq.Claimer.Fail (inbox's Dead transition).
func (s *Store) Fail(ctx context.Context, owner ownertoken.Token, ids []uuid.UUID, reason string) error {
	return sqlwq.Fail(ctx, s.db, rowConfig, owner, ids, reason)
}

// ReapExpired implements wq.Claimer.ReapExpired.
func (s *Store) ReapExpired(ctx context.Context) (int64, error) {
	return sqlwq.ReapExpired(ctx, s.db, rowConfig)
}

// Clean deletes terminal inbox rows, satisfying retention.Cleaner.
func (s *Store) Clean(ctx context.Context, status *wq.Status, before *time.Time) (int64, error) {
	var statusFilter *int
	if status != nil {
		v := int(*status)
		statusFilter = &v
	}
	return sqlwq.Clean(ctx, s.db, rowConfig, statusFilter, before)
}
