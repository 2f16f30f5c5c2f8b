// Package sqlfanout implements fanout.PolicyStore and fanout.CursorStore
// against bun models for the FanoutPolicy and FanoutCursor tables of
// spec.md §3.
package sqlfanout

import (
	"time"

	"github.com/uptrace/bun"
)

type policyModel struct {
	bun.BaseModel `bun:"table:fanout_policies"`

	Topic         string `bun:"topic,pk"`
	WorkKey       string `bun:"work_key,pk"`
	EverySeconds  int    `bun:"every_seconds,notnull"`
	JitterSeconds int    `bun:"jitter_seconds,notnull,default:0"`

	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type cursorModel struct {
	bun.BaseModel `bun:"table:fanout_cursors"`

	Topic           string    `bun:"topic,pk"`
	WorkKey         string    `bun:"work_key,pk"`
	ShardKey        string    `bun:"shard_key,pk"`
	LastCompletedAt time.Time `bun:"last_completed_at,notnull"`
}
