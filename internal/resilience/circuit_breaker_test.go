// ABOUTME: Tests for the circuit breaker guarding the remote analysis service
// ABOUTME: Validates transitions with a fake clock, failure classification and hooks

package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"
)

var errRemote = errors.New("remote unavailable")

func failN(t *testing.T, cb *CircuitBreaker, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error { return errRemote })
	}
}

func TestCircuitBreaker_NewCircuitBreaker(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "virustotal"})

	if cb.State() != StateClosed {
		t.Errorf("Initial state = %v, want %v", cb.State(), StateClosed)
	}
	if cb.Name() != "virustotal" {
		t.Errorf("Name() = %q, want virustotal", cb.Name())
	}
	if cb.config.MaxFailures != DefaultMaxFailures {
		t.Errorf("MaxFailures = %d, want %d", cb.config.MaxFailures, DefaultMaxFailures)
	}
	if cb.config.ResetTimeout != DefaultResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", cb.config.ResetTimeout, DefaultResetTimeout)
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	executed := false
	if err := cb.Execute(context.Background(), func(context.Context) error {
		executed = true
		return nil
	}); err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !executed {
		t.Error("function was not executed")
	}

	err := cb.Execute(context.Background(), func(context.Context) error { return errRemote })
	if !errors.Is(err, errRemote) {
		t.Errorf("Execute() error = %v, want %v", err, errRemote)
	}
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	t.Parallel()

	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 10 * time.Second,
		Clock:        fc,
	})

	failN(t, cb, 2)
	if cb.State() != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", cb.State())
	}
	failN(t, cb, 1)
	if cb.State() != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker should reject, err = %v called = %v", err, called)
	}

	fc.Step(10 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after reset timeout = %v, want half-open", cb.State())
	}

	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe Execute() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state after successful probe = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	t.Parallel()

	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, Clock: fc})

	failN(t, cb, 1)
	fc.Step(time.Second)
	failN(t, cb, 1)

	if cb.State() != StateOpen {
		t.Fatalf("state after failed probe = %v, want open", cb.State())
	}

	fc.Step(500 * time.Millisecond)
	if cb.State() != StateOpen {
		t.Errorf("reset timeout restarts on reopen, state = %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, Clock: fc})

	failN(t, cb, 1)
	fc.Step(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	close(release)

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe error = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_IgnoresCancellation(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})

	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("cancellation tripped the breaker: %v", cb.State())
	}
	if stats := cb.Statistics(); stats.Failures != 0 || stats.Successes != 0 {
		t.Errorf("cancellation counted: %+v", stats)
	}
}

func TestCircuitBreaker_CustomIsFailure(t *testing.T) {
	t.Parallel()

	errClient := errors.New("404 not found")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, errClient) },
	})

	_ = cb.Execute(context.Background(), func(context.Context) error { return errClient })
	if cb.State() != StateClosed {
		t.Errorf("client error tripped the breaker: %v", cb.State())
	}

	failN(t, cb, 1)
	if cb.State() != StateOpen {
		t.Errorf("server error did not trip the breaker: %v", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		transitions []string
	)
	fc := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "vt",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		Clock:        fc,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	failN(t, cb, 1)
	fc.Step(time.Second)
	_ = cb.Execute(context.Background(), func(context.Context) error { return nil })

	want := []string{"vt:closed->open", "vt:open->half-open", "vt:half-open->closed"}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_StatisticsAndReset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2})

	_ = cb.Execute(context.Background(), func(context.Context) error { return nil })
	failN(t, cb, 2)
	_ = cb.Execute(context.Background(), func(context.Context) error { return nil })

	stats := cb.Statistics()
	if stats.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", stats.TotalRequests)
	}
	if stats.Successes != 1 || stats.Failures != 2 || stats.Rejections != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.State != StateOpen {
		t.Errorf("State = %v, want open", stats.State)
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state after Reset() = %v, want closed", cb.State())
	}
	if cb.Statistics().ConsecutiveFailures != 0 {
		t.Error("Reset() should clear consecutive failures")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
