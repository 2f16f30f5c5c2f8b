package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/outboxkit/core/message"
	"github.com/outboxkit/core/wq"
)

// ErrPermanent is the sentinel a Handler returns to request an immediate
// Dead transition instead of Abandon-with-backoff.
var ErrPermanent = errors.New("inbox: permanent handler failure")

// Handler processes one claimed inbox message for a given topic.
type Handler func(ctx context.Context, env *message.Envelope) error

// HandlerResolver maps a topic to the Handler registered for it -
// spec.md §6's InboxHandlerResolver, implemented as a concrete map rather
// than reflection-based dispatch (Design Note §9).
type HandlerResolver struct {
	handlers map[string]Handler
}

// NewHandlerResolver constructs an empty resolver.
func NewHandlerResolver() *HandlerResolver {
	return &HandlerResolver{handlers: make(map[string]Handler)}
}

// Register associates topic with handler. Registering the same topic twice
// replaces the previous handler.
func (r *HandlerResolver) Register(topic string, handler Handler) {
	r.handlers[topic] = handler
}

// GetHandler returns the handler registered for topic, or (nil, false).
func (r *HandlerResolver) GetHandler(topic string) (Handler, bool) {
	h, ok := r.handlers[topic]
	return h, ok
}

// Store is the bun-backed persistence contract RunOnce and Enqueue use.
// sqlinbox.Store is the production implementation.
type Store interface {
	wq.Claimer[*Message]

	// Enqueue idempotently inserts a new Seen row for (source, messageId).
	// If a row already exists for that pair, it is left unchanged and
	// alreadySeen is true - the row's original Payload/Hash/DueTimeUtc are
	// never overwritten by a later Enqueue call.
	Enqueue(ctx context.Context, topic, source, messageId string, payload []byte, hash *string, dueTimeUtc *time.Time) (alreadySeen bool, err error)

	// AlreadyProcessed reports whether (source, messageId) has already been
	// seen at all (any status), optionally also checking hash equality when
	// hash is non-nil.
	AlreadyProcessed(ctx context.Context, source, messageId string, hash *string) (bool, error)

	// Get returns the full row by id, used by RunOnce after Claim to
	// resolve the handler and build the Envelope.
	Get(ctx context.Context, id uuid.UUID) (*Message, error)

	// Revive transitions Dead rows back to Seen, normalizing reason into
	// LastError and setting a new due time.
	Revive(ctx context.Context, ids []uuid.UUID, reason string, delay time.Duration) error
}
