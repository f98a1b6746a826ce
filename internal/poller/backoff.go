// ABOUTME: Wait interval sequence between poll attempts with optional growth and jitter
// ABOUTME: A multiplier of one and no jitter yields the fixed polling interval

package poller

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff produces the wait before each retry of a polling session.
type Backoff struct {
	mu      sync.Mutex
	policy  Policy
	waits   int
	current time.Duration

	// random returns a value in [0, 1). Replaced in tests.
	random func() float64
}

// NewBackoff creates a Backoff starting at the policy interval.
func NewBackoff(p Policy) *Backoff {
	return &Backoff{
		policy:  p,
		current: p.Interval,
		random:  rand.Float64,
	}
}

// Next returns the next wait duration and advances the sequence.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.base()
	if b.policy.JitterFraction > 0 {
		jitterRange := float64(delay) * b.policy.JitterFraction
		delay = time.Duration(float64(delay) + (b.random()*2-1)*jitterRange)
	}
	b.advance()
	return delay
}

// Waits returns the number of waits handed out so far.
func (b *Backoff) Waits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waits
}

// Reset restarts the sequence at the policy interval.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waits = 0
	b.current = b.policy.Interval
}

func (b *Backoff) base() time.Duration {
	return b.current
}

func (b *Backoff) advance() {
	b.waits++
	if b.policy.Multiplier <= 1 {
		return
	}
	next := time.Duration(float64(b.current) * b.policy.Multiplier)
	if b.policy.MaxInterval > 0 && next > b.policy.MaxInterval {
		next = b.policy.MaxInterval
	}
	b.current = next
}
