package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/outboxkit/core/message"
	"github.com/outboxkit/core/scheduler"
)

// RegistrationService upserts, per TopicOptions, the cron Job driving
// periodic coordination plus the seed FanoutPolicy row, at process
// startup (spec.md §4.6, "Job registration").
type RegistrationService struct {
	scheduler *scheduler.Client
	policies  PolicyStore
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(schedulerClient *scheduler.Client, policies PolicyStore) *RegistrationService {
	return &RegistrationService{scheduler: schedulerClient, policies: policies}
}

// Register upserts opts' cron Job (pointing at topic "fanout.coordinate")
// and its FanoutPolicy row. Idempotent: intended to run once per process
// startup, guarded by a bootstrap.OnceExecutionRegistry at the call site.
func (r *RegistrationService) Register(ctx context.Context, opts TopicOptions) error {
	payload, err := json.Marshal(coordinatePayload{Topic: opts.Topic, WorkKey: opts.WorkKey})
	if err != nil {
		return err
	}
	if _, err := r.scheduler.CreateOrUpdateJob(ctx, opts.jobName(), "fanout.coordinate", opts.Cron, payload); err != nil {
		return fmt.Errorf("fanout: register job %s: %w", opts.jobName(), err)
	}
	if err := r.policies.Upsert(ctx, opts.Topic, opts.WorkKey, Policy{
		EverySeconds:  opts.DefaultEverySeconds,
		JitterSeconds: opts.JitterSeconds,
	}); err != nil {
		return fmt.Errorf("fanout: seed policy for %s: %w", opts.Topic, err)
	}
	return nil
}

// coordinatePayload is the JSON body of "fanout.coordinate" outbox/timer
// messages, naming which topic/workKey the handler should coordinate.
type coordinatePayload struct {
	Topic   string `json:"topic"`
	WorkKey string `json:"workKey"`
}

// CoordinatorResolver looks up the Coordinator registered for
// "{topic}[:{workKey}]", per spec.md §4.6 ("resolves a coordinator keyed
// by...").
type CoordinatorResolver interface {
	Resolve(key string) (*Coordinator, bool)
}

// CoordinatorRegistry is a concrete, map-backed CoordinatorResolver built
// at startup alongside RegistrationService, mirroring inbox's concrete
// HandlerResolver (spec.md's "reflection based handler resolution...
// replaced by a registration step").
type CoordinatorRegistry struct {
	byKey map[string]*Coordinator
}

// NewCoordinatorRegistry constructs an empty CoordinatorRegistry.
func NewCoordinatorRegistry() *CoordinatorRegistry {
	return &CoordinatorRegistry{byKey: make(map[string]*Coordinator)}
}

// Register associates a Coordinator with "{topic}[:{workKey}]".
func (r *CoordinatorRegistry) Register(topic, workKey string, c *Coordinator) {
	r.byKey[coordinatorKey(topic, workKey)] = c
}

func (r *CoordinatorRegistry) Resolve(key string) (*Coordinator, bool) {
	c, ok := r.byKey[key]
	return c, ok
}

func coordinatorKey(topic, workKey string) string {
	if workKey == "" {
		return topic
	}
	return topic + ":" + workKey
}

// CoordinateHandler is the outbox.Handler for topic "fanout.coordinate": it
// decodes coordinatePayload and invokes the resolved Coordinator.
type CoordinateHandler struct {
	resolver CoordinatorResolver
}

// NewCoordinateHandler constructs a CoordinateHandler.
func NewCoordinateHandler(resolver CoordinatorResolver) *CoordinateHandler {
	return &CoordinateHandler{resolver: resolver}
}

func (h *CoordinateHandler) Topic() string { return "fanout.coordinate" }

func (h *CoordinateHandler) Handle(ctx context.Context, env *message.Envelope) error {
	var p coordinatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return err
	}
	c, ok := h.resolver.Resolve(coordinatorKey(p.Topic, p.WorkKey))
	if !ok {
		return fmt.Errorf("fanout: no coordinator registered for %s", coordinatorKey(p.Topic, p.WorkKey))
	}
	_, err := c.RunAsync(ctx, p.Topic, p.WorkKey)
	return err
}
