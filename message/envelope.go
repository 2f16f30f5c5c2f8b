// Package message defines Envelope, the transport-level view of a row that
// outboxkit hands to user-provided handlers.
//
// Envelope adapts the teacher queue library's Message type (an id + lazy
// metadata map + opaque payload) to the wider shape outboxkit's four queues
// need: a topic used for handler routing, an optional correlation id linking
// related messages (for example a Timer's originating id), and the same
// lazily-initialized metadata map for handler-local, untyped extras.
//
// Envelope itself carries no delivery state (no Status, Attempts,
// LockedUntil) - that belongs to the row types in outbox/inbox/scheduler.
// It is built fresh by a Service/Dispatcher immediately before invoking a
// handler and is not persisted as-is.
package message

import "github.com/google/uuid"

// Envelope is the value passed to OutboxHandler.Handle and inbox handler
// functions.
type Envelope struct {
	Id            uuid.UUID
	Topic         string
	CorrelationId *uuid.UUID
	Payload       []byte
	Metadata      map[string]any
}

// Get returns the metadata value associated with key, or nil if absent.
func (e *Envelope) Get(key string) any {
	ret, ok := e.Metadata[key]
	if !ok {
		return nil
	}
	return ret
}

// Set stores key/value in the envelope's metadata, allocating the map on
// first use.
func (e *Envelope) Set(key string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
}

// Get retrieves a metadata value and type-asserts it to T.
//
// If the key is absent or the stored value is not a T, Get returns the zero
// value of T and false.
func Get[T any](e *Envelope, key string) (T, bool) {
	raw, ok := e.Metadata[key]
	if !ok {
		var zero T
		return zero, false
	}
	ret, ok := raw.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return ret, true
}

// Set stores key/value in e's metadata using a type-safe generic helper.
func Set[T any](e *Envelope, key string, value T) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
}
