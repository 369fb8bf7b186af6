package app

import "time"

// cycleBreakerLimit is how many consecutive cycle failures the
// dispatcher tolerates before exiting for a supervisor restart.
const cycleBreakerLimit = 5

// CycleBreaker tracks consecutive dispatcher cycle failures. A cycle
// failure is an infrastructure error (store unreachable, claim
// failed), not a failed inference; those are terminal row outcomes.
type CycleBreaker struct {
	limit int
	count int
}

// NewCycleBreaker returns a breaker that trips after limit
// consecutive failures; non-positive limits fall back to the default.
func NewCycleBreaker(limit int) *CycleBreaker {
	if limit <= 0 {
		limit = cycleBreakerLimit
	}
	return &CycleBreaker{limit: limit}
}

// Failure records one failed cycle. It returns how long the caller
// should back off before the next cycle and whether the breaker
// tripped. A tripped breaker returns no sleep; the caller exits.
func (b *CycleBreaker) Failure() (time.Duration, bool) {
	b.count++
	if b.count >= b.limit {
		return 0, true
	}
	sleep := time.Duration(2*b.count) * time.Second
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep, false
}

// Success resets the consecutive-failure count.
func (b *CycleBreaker) Success() {
	b.count = 0
}

// Count returns the current consecutive-failure count.
func (b *CycleBreaker) Count() int {
	return b.count
}
