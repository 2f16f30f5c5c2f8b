package bootstrap_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	"github.com/outboxkit/core/bootstrap"
	"github.com/outboxkit/core/fanout"
	"github.com/outboxkit/core/store"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

type staticPlanner struct{}

func (staticPlanner) EnumerateCandidates(ctx context.Context, topic, workKey string) ([]fanout.Candidate, error) {
	return nil, nil
}

func TestDeploySchemaIsIdempotent(t *testing.T) {
	sqlDB, err := sql.Open("sqlite", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	ctx := context.Background()

	if err := bootstrap.DeploySchema(ctx, db); err != nil {
		t.Fatal(err)
	}
	if err := bootstrap.DeploySchema(ctx, db); err != nil {
		t.Fatalf("expected DeploySchema to be idempotent, got %v", err)
	}
}

func TestBuilderBuildWiresARuntime(t *testing.T) {
	sqlDB, err := sql.Open("sqlite", "file::memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	ctx := context.Background()
	if err := bootstrap.DeploySchema(ctx, db); err != nil {
		t.Fatal(err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bootstrap.NewBuilder(log)
	handle := &store.Handle{Identifier: "primary", DB: db}
	rt := b.Build(handle)

	if rt.Outbox == nil || rt.Inbox == nil || rt.Scheduler == nil || rt.SchedulerLoop == nil {
		t.Fatalf("expected Build to populate every Runtime component, got %+v", rt)
	}
	if rt.OutboxLoop == nil || rt.InboxDispatcher == nil {
		t.Fatal("expected Build to wire a dispatch loop and dispatcher")
	}
	if len(rt.Retention) != 4 {
		t.Fatalf("expected Build to wire one retention Worker per queue, got %d", len(rt.Retention))
	}

	registry := bootstrap.NewOnceExecutionRegistry()
	coordinators := fanout.NewCoordinatorRegistry()
	opts := fanout.TopicOptions{Topic: "orders", Cron: "0 * * * *", DefaultEverySeconds: 3600}

	if err := b.RegisterFanoutTopic(ctx, rt, staticPlanner{}, opts, coordinators, registry); err != nil {
		t.Fatal(err)
	}
	if _, ok := coordinators.Resolve("orders"); !ok {
		t.Fatal("expected RegisterFanoutTopic to register a resolvable coordinator")
	}

	// A second call with the same registry is a no-op and returns nil; the
	// topic's job can still be upserted through the scheduler client
	// afterwards.
	if err := b.RegisterFanoutTopic(ctx, rt, staticPlanner{}, opts, coordinators, registry); err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Scheduler.CreateOrUpdateJob(ctx, "fanout-orders", "fanout.coordinate", "0 * * * *", nil); err != nil {
		t.Fatal(err)
	}
}
