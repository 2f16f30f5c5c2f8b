package fanout_test

import (
	"context"
	"testing"
	"time"

	"github.com/outboxkit/core/fanout"
)

type fakePlanner struct {
	candidates []fanout.Candidate
}

func (p *fakePlanner) EnumerateCandidates(ctx context.Context, topic, workKey string) ([]fanout.Candidate, error) {
	return p.candidates, nil
}

type fakePolicyStore struct {
	policy    *fanout.Policy // default, keyed under ""
	byWorkKey map[string]*fanout.Policy
}

func (s *fakePolicyStore) Get(ctx context.Context, topic, workKey string) (*fanout.Policy, error) {
	if p, ok := s.byWorkKey[workKey]; ok {
		return p, nil
	}
	if workKey == "" && s.policy != nil {
		return s.policy, nil
	}
	return nil, fanout.ErrPolicyNotFound
}

func (s *fakePolicyStore) Upsert(ctx context.Context, topic, workKey string, policy fanout.Policy) error {
	if workKey == "" {
		s.policy = &policy
		return nil
	}
	if s.byWorkKey == nil {
		s.byWorkKey = map[string]*fanout.Policy{}
	}
	s.byWorkKey[workKey] = &policy
	return nil
}

type fakeCursorStore struct {
	completed map[string]time.Time
}

func newFakeCursorStore() *fakeCursorStore {
	return &fakeCursorStore{completed: map[string]time.Time{}}
}

func (s *fakeCursorStore) key(topic, workKey, shardKey string) string {
	return topic + "|" + workKey + "|" + shardKey
}

func (s *fakeCursorStore) LastCompletedAt(ctx context.Context, topic, workKey, shardKey string) (*time.Time, error) {
	t, ok := s.completed[s.key(topic, workKey, shardKey)]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *fakeCursorStore) MarkCompleted(ctx context.Context, topic, workKey, shardKey string, completedAt time.Time) error {
	s.completed[s.key(topic, workKey, shardKey)] = completedAt
	return nil
}

// TestGetDueSlicesHonorsCadenceWithoutJitter mirrors spec.md §8 scenario 6:
// policy (every=60s, jitter=0), one shard last completed 90s ago (due) and
// one last completed 30s ago (not due).
func TestGetDueSlicesHonorsCadenceWithoutJitter(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	planner := &fakePlanner{candidates: []fanout.Candidate{{ShardKey: "shard-due"}, {ShardKey: "shard-not-due"}}}
	policies := &fakePolicyStore{policy: &fanout.Policy{EverySeconds: 60, JitterSeconds: 0}}
	cursors := newFakeCursorStore()
	cursors.completed[cursors.key("orders", "", "shard-due")] = now.Add(-90 * time.Second)
	cursors.completed[cursors.key("orders", "", "shard-not-due")] = now.Add(-30 * time.Second)

	slices, err := fanout.GetDueSlices(ctx, planner, policies, cursors, "orders", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(slices) != 1 || slices[0].ShardKey != "shard-due" {
		t.Fatalf("expected exactly one due slice for shard-due, got %+v", slices)
	}
}

func TestGetDueSlicesTreatsUnseenShardAsAlwaysDue(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	planner := &fakePlanner{candidates: []fanout.Candidate{{ShardKey: "brand-new"}}}
	policies := &fakePolicyStore{policy: &fanout.Policy{EverySeconds: 3600}}
	cursors := newFakeCursorStore()

	slices, err := fanout.GetDueSlices(ctx, planner, policies, cursors, "orders", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(slices) != 1 || slices[0].ShardKey != "brand-new" {
		t.Fatalf("expected a shard with no cursor row to always be due, got %+v", slices)
	}
}

// TestGetDueSlicesResolvesPerCandidateWorkKey mirrors spec.md §8 scenario 6:
// a candidate carrying its own WorkKey is evaluated against that workKey's
// policy and cursor, not the caller's (here an empty outer workKey), and the
// resulting Slice reflects the candidate's workKey.
func TestGetDueSlicesResolvesPerCandidateWorkKey(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	planner := &fakePlanner{candidates: []fanout.Candidate{{ShardKey: "shard-a", WorkKey: "default"}}}
	policies := &fakePolicyStore{}
	if err := policies.Upsert(ctx, "orders", "default", fanout.Policy{EverySeconds: 60}); err != nil {
		t.Fatal(err)
	}
	cursors := newFakeCursorStore()
	cursors.completed[cursors.key("orders", "default", "shard-a")] = now.Add(-90 * time.Second)

	slices, err := fanout.GetDueSlices(ctx, planner, policies, cursors, "orders", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if len(slices) != 1 || slices[0].WorkKey != "default" {
		t.Fatalf("expected the candidate's own workKey to be honored, got %+v", slices)
	}
}

func TestLeaseNameAndSliceTopicNaming(t *testing.T) {
	if got := fanout.LeaseName("orders", ""); got != "fanout:orders" {
		t.Fatalf("unexpected lease name %q", got)
	}
	if got := fanout.LeaseName("orders", "tenant-1"); got != "fanout:orders:tenant-1" {
		t.Fatalf("unexpected lease name %q", got)
	}
	if got := fanout.SliceTopic("orders", "tenant-1"); got != "fanout:orders:tenant-1" {
		t.Fatalf("unexpected slice topic %q", got)
	}
}
