package sqlfanout

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/outboxkit/core/fanout"
	"github.com/uptrace/bun"
)

// PolicyStore implements fanout.PolicyStore.
type PolicyStore struct {
	db *bun.DB
}

// NewPolicyStore constructs a PolicyStore. db must already have had InitDB
// run against it.
func NewPolicyStore(db *bun.DB) *PolicyStore {
	return &PolicyStore{db: db}
}

func (s *PolicyStore) Get(ctx context.Context, topic, workKey string) (*fanout.Policy, error) {
	var row policyModel
	err := s.db.NewSelect().
		Model(&row).
		Where("topic = ?", topic).
		Where("work_key = ?", workKey).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fanout.ErrPolicyNotFound
		}
		return nil, err
	}
	return &fanout.Policy{EverySeconds: row.EverySeconds, JitterSeconds: row.JitterSeconds}, nil
}

func (s *PolicyStore) Upsert(ctx context.Context, topic, workKey string, policy fanout.Policy) error {
	row := &policyModel{
		Topic:         topic,
		WorkKey:       workKey,
		EverySeconds:  policy.EverySeconds,
		JitterSeconds: policy.JitterSeconds,
		UpdatedAt:     time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (topic, work_key) DO UPDATE").
		Set("every_seconds = EXCLUDED.every_seconds").
		Set("jitter_seconds = EXCLUDED.jitter_seconds").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// CursorStore implements fanout.CursorStore.
type CursorStore struct {
	db *bun.DB
}

// NewCursorStore constructs a CursorStore. db must already have had InitDB
// run against it.
func NewCursorStore(db *bun.DB) *CursorStore {
	return &CursorStore{db: db}
}

func (s *CursorStore) LastCompletedAt(ctx context.Context, topic, workKey, shardKey string) (*time.Time, error) {
	var row cursorModel
	err := s.db.NewSelect().
		Model(&row).
		Where("topic = ?", topic).
		Where("work_key = ?", workKey).
		Where("shard_key = ?", shardKey).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &row.LastCompletedAt, nil
}

func (s *CursorStore) MarkCompleted(ctx context.Context, topic, workKey, shardKey string, completedAt time.Time) error {
	row := &cursorModel{
		Topic:           topic,
		WorkKey:         workKey,
		ShardKey:        shardKey,
		LastCompletedAt: completedAt,
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (topic, work_key, shard_key) DO UPDATE").
		Set("last_completed_at = EXCLUDED.last_completed_at").
		Exec(ctx)
	return err
}
