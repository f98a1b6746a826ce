// ABOUTME: Bounded polling policy: attempt budget, wait interval, wall-clock limit, threshold
// ABOUTME: Defaults reproduce 15 attempts every 5s within 120s at 90% engine completion

package poller

import (
	"errors"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts                = 15
	DefaultInterval                   = 5 * time.Second
	DefaultTimeout                    = 120 * time.Second
	DefaultCompletionThresholdPercent = 90
)

// Policy bounds a polling session.
type Policy struct {
	// MaxAttempts is the number of status queries before giving up.
	MaxAttempts int

	// Interval is the wait after the first unsuccessful attempt.
	Interval time.Duration

	// Timeout is the hard wall-clock bound on the whole session.
	Timeout time.Duration

	// CompletionThresholdPercent is the share of engines that must have
	// reported before a completed analysis is summarized.
	CompletionThresholdPercent int

	// Multiplier grows the interval after each wait. Zero or one keeps it fixed.
	Multiplier float64

	// MaxInterval caps grown intervals. Zero means no cap.
	MaxInterval time.Duration

	// JitterFraction adds ±fraction randomness to each wait. Zero disables it.
	JitterFraction float64
}

// DefaultPolicy returns the standard fixed-interval policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:                DefaultMaxAttempts,
		Interval:                   DefaultInterval,
		Timeout:                    DefaultTimeout,
		CompletionThresholdPercent: DefaultCompletionThresholdPercent,
	}
}

// Validate checks if the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("max attempts must be at least 1")
	}
	if p.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if p.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if p.CompletionThresholdPercent < 1 || p.CompletionThresholdPercent > 100 {
		return errors.New("completion threshold must be between 1 and 100 percent")
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	if p.MaxInterval < 0 {
		return errors.New("max interval must not be negative")
	}
	if p.JitterFraction < 0 || p.JitterFraction > 1 {
		return errors.New("jitter fraction must be between 0 and 1")
	}
	return nil
}

// WorstCase returns the longest a session can take before the attempt budget
// runs out, ignoring request latency and jitter. The wall-clock timeout still
// applies on top.
func (p Policy) WorstCase() time.Duration {
	b := NewBackoff(p)
	var total time.Duration
	for i := 1; i < p.MaxAttempts; i++ {
		total += b.base()
		b.advance()
	}
	return min(total, p.Timeout)
}

// LimitedFinalQuery returns the earliest start of the last status query when
// the submission and every query draw from a token bucket refilling one token
// per perToken with the given burst. Jitter and request latency are ignored.
func (p Policy) LimitedFinalQuery(perToken time.Duration, burst int) time.Duration {
	// Request n (the submission is n = 1) cannot start before its token exists.
	tokenAt := func(n int) time.Duration {
		if n <= burst {
			return 0
		}
		return time.Duration(n-burst) * perToken
	}

	b := NewBackoff(p)
	at := tokenAt(2)
	for attempt := 2; attempt <= p.MaxAttempts; attempt++ {
		at = max(at+b.base(), tokenAt(attempt+1))
		b.advance()
	}
	return at
}
