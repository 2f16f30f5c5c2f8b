package sqlinbox

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*inboxModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// createIdempotencyIndex enforces the spec.md §3 invariant "MessageId
// unique per Source" as a unique index rather than relying on
// application-level check-then-insert, so a race between two concurrent
// Enqueue calls for the same (source, message_id) can never create two rows.
func createIdempotencyIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*inboxModel)(nil)).
		Index("idx_inbox_source_message").
		Column("source", "message_id").
		Unique().
		IfNotExists().
		Exec(ctx)
	return err
}

func createClaimIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*inboxModel)(nil)).
		Index("idx_inbox_claim").
		Column("status", "due_time_utc", "first_seen_utc").
		IfNotExists().
		Exec(ctx)
	return err
}

// InitDB creates the inbox_messages table and its indexes if they do not
// already exist. Idempotent; satisfies sqlstore.SchemaDeployer.
func InitDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createTable(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createIdempotencyIndex(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createClaimIndex(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}
