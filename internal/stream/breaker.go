package stream

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker gates reconnect attempts so a flapping or dead endpoint does not
// produce a dial storm. Consecutive failures open it; while open, due
// reconnect attempts are skipped until the cooldown lapses, after which a
// single probe attempt is allowed and one success closes it again.
type Breaker struct {
	mu sync.Mutex

	state     breakerState
	failures  int
	openedAt  time.Time
	threshold int
	cooldown  time.Duration
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and allows a probe attempt every cooldown thereafter
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a dial attempt may proceed
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = breakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker after a successful dial
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

// RecordFailure counts a failed dial; the probe attempt from half-open
// reopens immediately
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

// StateName returns the breaker state for logging
func (b *Breaker) StateName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
