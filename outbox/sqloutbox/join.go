package sqloutbox

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/outbox"
	"github.com/uptrace/bun"
)

// joinModel is the aggregate counter row, one per JoinId.
type joinModel struct {
	bun.BaseModel `bun:"table:outbox_joins"`

	JoinId         uuid.UUID        `bun:"join_id,pk,type:uuid"`
	ExpectedSteps  int              `bun:"expected_steps,notnull"`
	CompletedSteps int              `bun:"completed_steps,notnull,default:0"`
	FailedSteps    int              `bun:"failed_steps,notnull,default:0"`
	Status         outbox.JoinStatus `bun:"status,notnull,default:0"`
	CreatedAt      time.Time        `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time        `bun:"updated_at,notnull,default:current_timestamp"`
}

// joinMemberModel is one (JoinId, OutboxMessageId) membership row. A unique
// index on (join_id, outbox_message_id) plus a per-member "counted" flag is
// the idempotency guard SPEC_FULL.md's Open Question resolution calls for,
// replacing the original source's ambiguous 1-second debounce window with
// an explicit per-member guard: OnAck/OnFail only bump the aggregate
// counters the first time a given member's outcome is recorded.
type joinMemberModel struct {
	bun.BaseModel `bun:"table:outbox_join_members"`

	JoinId          uuid.UUID  `bun:"join_id,pk,type:uuid"`
	OutboxMessageId uuid.UUID  `bun:"outbox_message_id,pk,type:uuid"`
	Counted         bool       `bun:"counted,notnull,default:false"`
}

func createJoinTables(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*joinModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateTable().Model((*joinMemberModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateIndex().
		Model((*joinMemberModel)(nil)).
		Index("idx_outbox_join_members_message").
		Column("outbox_message_id").
		IfNotExists().
		Exec(ctx)
	return err
}

// JoinStore implements outbox.JoinStore against the outbox_joins /
// outbox_join_members tables.
type JoinStore struct {
	db *bun.DB
}

// NewJoinStore constructs a JoinStore. Call InitDB once before using it.
func NewJoinStore(db *bun.DB) *JoinStore {
	return &JoinStore{db: db}
}

var _ outbox.JoinStore = (*JoinStore)(nil)

// CreateJoin implements outbox.JoinStore.CreateJoin.
func (s *JoinStore) CreateJoin(ctx context.Context, joinId uuid.UUID, memberMessageIds []uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	row := &joinModel{JoinId: joinId, ExpectedSteps: len(memberMessageIds), Status: outbox.JoinPending}
	if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	members := make([]*joinMemberModel, len(memberMessageIds))
	for i, id := range memberMessageIds {
		members[i] = &joinMemberModel{JoinId: joinId, OutboxMessageId: id}
	}
	if len(members) > 0 {
		if _, err := tx.NewInsert().Model(&members).Exec(ctx); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

func (s *JoinStore) recordOutcome(ctx context.Context, outboxMessageId uuid.UUID, counterColumn string, status outbox.JoinStatus) (*outbox.Join, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	var member joinMemberModel
	err = tx.NewSelect().Model(&member).
		Where("outbox_message_id = ?", outboxMessageId).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Rollback()
	}
	if err != nil {
		return nil, errors.Join(err, tx.Rollback())
	}

	if !member.Counted {
		if _, err := tx.NewUpdate().Model((*joinMemberModel)(nil)).
			Set("counted = ?", true).
			Where("join_id = ? AND outbox_message_id = ?", member.JoinId, member.OutboxMessageId).
			Exec(ctx); err != nil {
			return nil, errors.Join(err, tx.Rollback())
		}
		if _, err := tx.NewUpdate().Model((*joinModel)(nil)).
			Set(counterColumn+" = "+counterColumn+" + 1").
			Where("join_id = ?", member.JoinId).
			Exec(ctx); err != nil {
			return nil, errors.Join(err, tx.Rollback())
		}
	}

	var join joinModel
	if err := tx.NewSelect().Model(&join).Where("join_id = ?", member.JoinId).Scan(ctx); err != nil {
		return nil, errors.Join(err, tx.Rollback())
	}

	newStatus := join.Status
	switch {
	case join.FailedSteps > 0:
		newStatus = outbox.JoinFailed
	case join.CompletedSteps == join.ExpectedSteps:
		newStatus = outbox.JoinCompleted
	}
	if newStatus != join.Status {
		if _, err := tx.NewUpdate().Model((*joinModel)(nil)).
			Set("status = ?", newStatus).
			Where("join_id = ?", join.JoinId).
			Exec(ctx); err != nil {
			return nil, errors.Join(err, tx.Rollback())
		}
		join.Status = newStatus
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &outbox.Join{
		JoinId:         join.JoinId,
		ExpectedSteps:  join.ExpectedSteps,
		CompletedSteps: join.CompletedSteps,
		FailedSteps:    join.FailedSteps,
		Status:         join.Status,
	}, nil
}

// OnAck implements outbox.JoinStore.OnAck.
func (s *JoinStore) OnAck(ctx context.Context, outboxMessageId uuid.UUID) (*outbox.Join, error) {
	return s.recordOutcome(ctx, outboxMessageId, "completed_steps", outbox.JoinCompleted)
}

// OnFail implements outbox.JoinStore.OnFail.
func (s *JoinStore) OnFail(ctx context.Context, outboxMessageId uuid.UUID) (*outbox.Join, error) {
	return s.recordOutcome(ctx, outboxMessageId, "failed_steps", outbox.JoinFailed)
}

// Get implements outbox.JoinStore.Get.
func (s *JoinStore) Get(ctx context.Context, joinId uuid.UUID) (*outbox.Join, error) {
	var join joinModel
	err := s.db.NewSelect().Model(&join).Where("join_id = ?", joinId).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &outbox.Join{
		JoinId:         join.JoinId,
		ExpectedSteps:  join.ExpectedSteps,
		CompletedSteps: join.CompletedSteps,
		FailedSteps:    join.FailedSteps,
		Status:         join.Status,
	}, nil
}
