// ABOUTME: Circuit breaker guarding calls to the remote analysis service
// ABOUTME: Opens after consecutive failures, probes in half-open, and reports transitions

package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// Default circuit breaker configuration values.
const (
	DefaultMaxFailures      = 5
	DefaultResetTimeout     = 30 * time.Second
	DefaultHalfOpenMaxCalls = 1
)

// Circuit breaker states.
type State int

const (
	// StateClosed allows requests through normally.
	StateClosed State = iota

	// StateOpen rejects all requests immediately.
	StateOpen

	// StateHalfOpen allows limited probe requests.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker in logs and metrics.
	Name string

	// MaxFailures is the consecutive failure count that opens the circuit.
	// Zero uses DefaultMaxFailures.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	// Zero uses DefaultResetTimeout.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls is the number of probe calls allowed while half-open.
	// Zero uses DefaultHalfOpenMaxCalls.
	HalfOpenMaxCalls int

	// IsFailure decides whether an error counts against the circuit.
	// Nil counts every error except context cancellation.
	IsFailure func(err error) bool

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Clock defaults to the real clock.
	Clock clock.PassiveClock
}

// Statistics holds circuit breaker counters.
type Statistics struct {
	State               State
	TotalRequests       int64
	Successes           int64
	Failures            int64
	Rejections          int64
	ConsecutiveFailures int
	LastFailureTime     time.Time
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig

	state               State
	consecutiveFailures int
	openedAt            time.Time
	lastFailureTime     time.Time
	halfOpenCalls       int

	totalRequests atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	rejections    atomic.Int64
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if config.IsFailure == nil {
		config.IsFailure = defaultIsFailure
	}
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	cb.totalRequests.Add(1)

	if !cb.allowRequest() {
		cb.rejections.Add(1)
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.recordResult(err)

	return err
}

// State returns the current state, moving open to half-open once the reset
// timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from, to, changed := cb.refreshLocked()
	state := cb.state
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to)
	}
	return state
}

// Statistics returns current circuit breaker statistics.
func (cb *CircuitBreaker) Statistics() Statistics {
	state := cb.State()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Statistics{
		State:               state,
		TotalRequests:       cb.totalRequests.Load(),
		Successes:           cb.successes.Load(),
		Failures:            cb.failures.Load(),
		Rejections:          cb.rejections.Load(),
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailureTime:     cb.lastFailureTime,
	}
}

// Reset manually closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.openedAt = time.Time{}
	cb.halfOpenCalls = 0
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}

// refreshLocked applies the open to half-open transition. Callers hold mu.
func (cb *CircuitBreaker) refreshLocked() (State, State, bool) {
	if cb.state != StateOpen {
		return cb.state, cb.state, false
	}
	if cb.config.Clock.Since(cb.openedAt) < cb.config.ResetTimeout {
		return cb.state, cb.state, false
	}
	cb.state = StateHalfOpen
	cb.halfOpenCalls = 0
	return StateOpen, StateHalfOpen, true
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	from, to, changed := cb.refreshLocked()

	allowed := false
	switch cb.state {
	case StateClosed:
		allowed = true
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			allowed = true
		}
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, to)
	}
	return allowed
}

func (cb *CircuitBreaker) recordResult(err error) {
	failed := err != nil && cb.config.IsFailure(err)

	cb.mu.Lock()
	from := cb.state

	switch {
	case err != nil && !failed:
		// Ignored errors neither trip nor close the circuit.
		if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}
	case !failed:
		cb.successes.Add(1)
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.halfOpenCalls = 0
		}
	default:
		now := cb.config.Clock.Now()
		cb.failures.Add(1)
		cb.consecutiveFailures++
		cb.lastFailureTime = now

		switch cb.state {
		case StateClosed:
			if cb.consecutiveFailures >= cb.config.MaxFailures {
				cb.state = StateOpen
				cb.openedAt = now
			}
		case StateHalfOpen:
			// A failed probe reopens the circuit.
			cb.state = StateOpen
			cb.openedAt = now
			cb.halfOpenCalls = 0
		}
	}
	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
