// Package backoff computes retry delays for failed handler invocations.
//
// Policy generalizes the teacher queue library's BackoffConfig/backoffCounter
// (exponential with jitter, max-retries cutoff) into a pluggable interface,
// and Default implements the exact fixed formula spec.md §4.4 calls for:
//
//	delay = min(60s, 0.25s * 2^min(attempt,10)) + rand(0, 250ms)
//
// Default has no max-retries cutoff of its own; callers (inbox.Dispatcher,
// outbox.DispatchLoop) separately compare Attempts against MaxAttempts and call
// Fail instead of Abandon once exceeded, per spec.md §4.4 step 4.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy computes the delay to apply before a failed row becomes eligible
// again, given how many times it has already been attempted.
type Policy interface {
	Next(attempt uint32) time.Duration
}

// PolicyFunc adapts a plain function to Policy.
type PolicyFunc func(attempt uint32) time.Duration

// Next implements Policy.
func (f PolicyFunc) Next(attempt uint32) time.Duration {
	return f(attempt)
}

// Default implements the fixed formula from spec.md §4.4.
var Default Policy = PolicyFunc(defaultNext)

func defaultNext(attempt uint32) time.Duration {
	capped := attempt
	if capped > 10 {
		capped = 10
	}
	exp := 250 * time.Millisecond * time.Duration(math.Pow(2, float64(capped)))
	if exp > 60*time.Second {
		exp = 60 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(250 * time.Millisecond)))
	return exp + jitter
}

