// Package fanout coordinates sharded recurring work: a Planner enumerates
// candidate (shardKey, workKey) pairs, the base cadence/jitter check
// decides which are due, and a Coordinator dispatches one Outbox message
// per due Slice under a short-lived lease, so at most one process fans a
// topic out at a time.
package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrPolicyNotFound is returned by PolicyStore.Get when no FanoutPolicy row
// exists for (topic, workKey).
var ErrPolicyNotFound = errors.New("fanout: policy not found")

// Slice is one unit of fanned-out work (spec.md §4.6): a shard due for
// processing since windowStart.
type Slice struct {
	Topic       string
	ShardKey    string
	WorkKey     string
	WindowStart time.Time
}

// Candidate is one (shardKey, workKey) pair a Planner's EnumerateCandidates
// yields, before the cadence/jitter check decides whether it is due.
type Candidate struct {
	ShardKey string
	WorkKey  string
}

// Policy is the per-(topic, workKey) cadence configuration (spec.md §3,
// FanoutPolicy).
type Policy struct {
	EverySeconds  int
	JitterSeconds int
}

// PolicyStore reads/writes FanoutPolicy rows.
type PolicyStore interface {
	Get(ctx context.Context, topic, workKey string) (*Policy, error)
	Upsert(ctx context.Context, topic, workKey string, policy Policy) error
}

// CursorStore tracks FanoutCursor rows: the last completed window per
// (topic, workKey, shardKey).
type CursorStore interface {
	LastCompletedAt(ctx context.Context, topic, workKey, shardKey string) (*time.Time, error)
	MarkCompleted(ctx context.Context, topic, workKey, shardKey string, completedAt time.Time) error
}

// Planner supplies the candidate shards for a topic; EnumerateCandidates
// implementations are provided by the embedding application (spec.md
// §4.6's "implementer supplies EnumerateCandidates").
type Planner interface {
	EnumerateCandidates(ctx context.Context, topic string, workKey string) ([]Candidate, error)
}

// jitter picks a pseudo-random delay in [0, jitterSeconds) seconds. A
// distinct uuid-derived seed per call keeps this free of the forbidden
// math/rand global state while remaining good enough for cadence spreading
// (not a security-sensitive random source).
func jitter(jitterSeconds int) time.Duration {
	if jitterSeconds <= 0 {
		return 0
	}
	n := uuid.New()
	sum := 0
	for _, b := range n[:] {
		sum += int(b)
	}
	return time.Duration(sum%jitterSeconds) * time.Second
}

// GetDueSlices evaluates planner's candidates against policy's cadence and
// cursor's last-completed times, returning one Slice per shard where
// now - lastCompleted >= everySeconds + rand(0, jitterSeconds), per spec.md
// §4.6. A shard never seen before (no cursor row) is always due.
//
// Each candidate resolves its own workKey (spec.md §8 scenario 6: a
// candidate whose WorkKey is set is looked up under that key, not the
// caller's); workKey is only the fallback used when a candidate leaves
// WorkKey empty, and is what EnumerateCandidates itself is called with.
func GetDueSlices(ctx context.Context, planner Planner, policies PolicyStore, cursors CursorStore, topic, workKey string, now time.Time) ([]Slice, error) {
	candidates, err := planner.EnumerateCandidates(ctx, topic, workKey)
	if err != nil {
		return nil, err
	}

	policyCache := make(map[string]*Policy, len(candidates))
	var due []Slice
	for _, c := range candidates {
		candidateWorkKey := c.WorkKey
		if candidateWorkKey == "" {
			candidateWorkKey = workKey
		}

		policy, ok := policyCache[candidateWorkKey]
		if !ok {
			policy, err = policies.Get(ctx, topic, candidateWorkKey)
			if err != nil {
				return nil, err
			}
			policyCache[candidateWorkKey] = policy
		}

		last, err := cursors.LastCompletedAt(ctx, topic, candidateWorkKey, c.ShardKey)
		if err != nil {
			return nil, err
		}
		if last == nil {
			due = append(due, Slice{Topic: topic, ShardKey: c.ShardKey, WorkKey: candidateWorkKey, WindowStart: time.Time{}})
			continue
		}
		threshold := time.Duration(policy.EverySeconds)*time.Second + jitter(policy.JitterSeconds)
		if now.Sub(*last) >= threshold {
			due = append(due, Slice{Topic: topic, ShardKey: c.ShardKey, WorkKey: candidateWorkKey, WindowStart: *last})
		}
	}
	return due, nil
}

// TopicOptions describes one fanout registration: the cron cadence driving
// Coordinator.RunAsync via the "fanout.coordinate" outbox topic, plus the
// cadence/jitter defaults seeded into FanoutPolicy at startup.
type TopicOptions struct {
	Topic                string
	WorkKey              string // optional; empty means topic-wide
	Cron                 string
	DefaultEverySeconds  int
	JitterSeconds        int
}

// jobName returns the cron Job name "fanout-{topic}[-{workKey}]" per
// spec.md §4.6.
func (o TopicOptions) jobName() string {
	if o.WorkKey == "" {
		return "fanout-" + o.Topic
	}
	return "fanout-" + o.Topic + "-" + o.WorkKey
}

// LeaseName returns the lease resource "fanout:{topic}[:{workKey}]" per
// spec.md §4.6 step 1.
func LeaseName(topic, workKey string) string {
	if workKey == "" {
		return "fanout:" + topic
	}
	return "fanout:" + topic + ":" + workKey
}

// SliceTopic returns the outbox topic "fanout:{topic}:{workKey}" slice
// messages are enqueued under, per spec.md §6.
func SliceTopic(topic, workKey string) string {
	return "fanout:" + topic + ":" + workKey
}
