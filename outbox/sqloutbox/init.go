package sqloutbox

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*outboxModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createClaimIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*outboxModel)(nil)).
		Index("idx_outbox_claim").
		Column("status", "due_time_utc", "created_at").
		IfNotExists().
		Exec(ctx)
	return err
}

// InitDB creates the outbox_messages table and its claim index if they do
// not already exist. Idempotent; safe to call on every process startup, and
// satisfies sqlstore.SchemaDeployer.
func InitDB(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createTable(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createClaimIndex(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createJoinTables(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}
