package bootstrap

import (
	"strings"
	"sync"
)

// OnceExecutionRegistry is a process-wide, sync.Map-backed test-and-set
// keyed by a normalized string, guarding idempotent one-shot setup (e.g.
// fanout job/policy registration at startup) so it runs exactly once per
// process regardless of how many call sites race to perform it.
type OnceExecutionRegistry struct {
	seen sync.Map
}

// NewOnceExecutionRegistry constructs an empty registry.
func NewOnceExecutionRegistry() *OnceExecutionRegistry {
	return &OnceExecutionRegistry{}
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// TryClaim atomically reports whether key has not been claimed before,
// marking it claimed as a side effect. Only the first caller for a given
// key gets true.
func (r *OnceExecutionRegistry) TryClaim(key string) bool {
	_, loaded := r.seen.LoadOrStore(normalize(key), struct{}{})
	return !loaded
}

// Do runs fn exactly once for key across the registry's lifetime,
// returning nil without invoking fn on any later call for the same key.
func (r *OnceExecutionRegistry) Do(key string, fn func() error) error {
	if !r.TryClaim(key) {
		return nil
	}
	return fn()
}
