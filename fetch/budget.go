// Package fetch implements the per-tick budgeted outbound call path (spec
// component B): a call counter, a wall-clock deadline, per-call timeouts,
// and the retry/backoff policy store writes get.
package fetch

import (
	"sync"
	"time"
)

// Budget tracks how many outbound calls and how much wall-clock time a
// single tick has left. It is created fresh at tick entry and shared by
// every Fetcher.Do call made during that tick.
type Budget struct {
	mu       sync.Mutex
	maxCalls int
	used     int
	deadline time.Time
}

// NewBudget starts a budget of maxCalls outbound calls over tickDuration,
// counted from now.
func NewBudget(maxCalls int, tickDuration time.Duration) *Budget {
	return &Budget{
		maxCalls: maxCalls,
		deadline: time.Now().Add(tickDuration),
	}
}

// Allow reports whether a call with the given timeout may proceed, and if
// so reserves one unit of call budget. A call is refused when the counter
// is spent, or when the tick's remaining wall-clock time is less than the
// call's own timeout — launching it would let its result arrive after the
// tick has already moved on, per spec.md §5's "calls launched near the end
// may outlive the tick but their results are discarded" note: we simply
// never launch those.
func (b *Budget) Allow(callTimeout time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used >= b.maxCalls {
		return false
	}
	if time.Until(b.deadline) < callTimeout {
		return false
	}
	b.used++
	return true
}

// Remaining reports how many calls are left in the counter.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxCalls - b.used
}

// TimeRemaining reports how much wall-clock time is left before the tick
// deadline.
func (b *Budget) TimeRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Until(b.deadline)
}

// Expired reports whether the tick deadline has already passed.
func (b *Budget) Expired() bool {
	return b.TimeRemaining() <= 0
}
