package circuitbreaker

import (
	"sync"
	"time"
)

// Breaker opens after a run of consecutive failures and closes again once a
// cooldown period has passed. It protects slow external collaborators (the
// shared cache) from being hammered while they are down.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool

	threshold int
	cooldown  time.Duration
}

// New creates a breaker that opens after threshold consecutive failures and
// stays open for cooldown.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call may proceed. An open breaker closes again after
// the cooldown elapses.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}

	if time.Since(b.lastFailure) > b.cooldown {
		b.open = false
		b.failures = 0
		return true
	}

	return false
}

// RecordSuccess resets the consecutive-failure counter and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
}

// RecordFailure counts a failure and opens the breaker once the threshold is
// reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.failures >= b.threshold {
		b.open = true
	}
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
}

// State is a point-in-time snapshot for status reporting.
type State struct {
	Open     bool `json:"open"`
	Failures int  `json:"failures"`
}

// GetState returns the current state for monitoring.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return State{Open: b.open, Failures: b.failures}
}
