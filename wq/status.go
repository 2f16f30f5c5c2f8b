// Package wq defines the row-state discipline shared by every outboxkit
// queue (outbox, inbox, timers, job-runs), generalizing the teacher queue
// library's per-table Puller/Pusher/Observer/Cleaner quartet into one
// contract with per-queue SQL fragments, per Design Note §9 ("Multiple
// named queues share one work queue contract").
package wq

import "fmt"

// Status is the canonical numeric lifecycle code shared by every queue row.
// spec.md §9 flags that the source system keeps both a numeric and a
// derived textual status column; this module picks the numeric
// representation as sole source of truth and exposes String/MarshalText
// only for observability, never persisting a second column.
type Status uint8

const (
	// Ready indicates the row is eligible for Claim once its due time has
	// passed. Inbox labels this status "Seen".
	Ready Status = iota

	// InProgress indicates the row is currently owned by a worker under an
	// unexpired lease. Inbox labels this status "Processing".
	InProgress

	// Done indicates successful terminal completion.
	Done

	// Failed indicates permanent terminal failure. Inbox labels this
	// status "Dead".
	Failed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "Ready"
	case InProgress:
		return "InProgress"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Ready":
		*s = Ready
	case "InProgress":
		*s = InProgress
	case "Done":
		*s = Done
	case "Failed":
		*s = Failed
	default:
		return fmt.Errorf("wq: unknown status %q", text)
	}
	return nil
}
