// ABOUTME: Poller driving one analysis handle to a terminal state under a bounded policy
// ABOUTME: Races the attempt loop against a wall-clock deadline and reports every transition

package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// State is a polling session state.
type State string

const (
	StateQuerying  State = "querying"
	StateWaiting   State = "waiting"
	StateDone      State = "done"
	StateExhausted State = "exhausted"
	StateTimedOut  State = "timed_out"
	StateCancelled State = "cancelled"
)

// IsTerminal returns true for states that end a session.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateExhausted, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// Event describes one state transition.
type Event struct {
	State       State         `json:"state"`
	Handle      string        `json:"handle"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	LastStatus  string        `json:"last_status,omitempty"`
	Total       int           `json:"total_engines,omitempty"`
	Scanned     int           `json:"scanned_engines,omitempty"`
	Wait        time.Duration `json:"wait,omitempty"`
	Error       string        `json:"error,omitempty"`
	At          time.Time     `json:"at"`
}

// Observer receives events in order. It must not block.
type Observer func(Event)

// Result is the terminal outcome of Poll.
type Result struct {
	State State

	// Snapshot is the final snapshot when done, otherwise the last one seen (may be nil).
	Snapshot *types.AnalysisSnapshot

	Attempts   int
	LastStatus string

	// Message is the caller-facing text for exhausted and timed-out sessions.
	Message string

	Elapsed time.Duration
}

// AnalysisFetcher reads the current state of an analysis.
type AnalysisFetcher interface {
	GetAnalysis(ctx context.Context, handle types.AnalysisHandle) (*types.AnalysisSnapshot, error)
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// Poller polls analyses. It is safe for concurrent use; each Poll call is an
// independent session.
type Poller struct {
	fetcher AnalysisFetcher
	policy  Policy
	clock   clock.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a Poller.
func New(fetcher AnalysisFetcher, policy Policy, opts ...Option) (*Poller, error) {
	if fetcher == nil {
		return nil, errors.New("analysis fetcher is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poll policy: %w", err)
	}

	p := &Poller{
		fetcher: fetcher,
		policy:  policy,
		clock:   clock.RealClock{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("hikmaai-sentinel/poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "poller"))
	return p, nil
}

// Policy returns the poller's policy.
func (p *Poller) Policy() Policy {
	return p.policy
}

// ExhaustedMessage is the text for a session that ran out of attempts.
func ExhaustedMessage(maxAttempts int, lastStatus string) string {
	return fmt.Sprintf("Scan did not complete in %d attempts. Last status: %s", maxAttempts, lastStatus)
}

// TimedOutMessage is the text for a session abandoned at the wall-clock limit.
func TimedOutMessage(timeout time.Duration) string {
	return fmt.Sprintf("Scan timed out after waiting %d seconds.", int(timeout/time.Second))
}

// Poll queries handle until the policy ends the session. It never returns an
// error: transient failures consume attempts, and the result state tells the
// caller how the session ended. Cancelling ctx ends it with StateCancelled.
func (p *Poller) Poll(ctx context.Context, handle types.AnalysisHandle, observe Observer) Result {
	ctx, span := p.tracer.Start(ctx, "poller.Poll")
	defer span.End()
	span.SetAttributes(attribute.String("analysis.id", handle.String()))

	if observe == nil {
		observe = func(Event) {}
	}
	start := p.clock.Now()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	deadline := p.clock.NewTimer(p.policy.Timeout)
	defer deadline.Stop()

	s := &session{
		poller:     p,
		handle:     handle,
		observe:    observe,
		lastStatus: types.AnalysisStatusUnknown.String(),
	}
	done := make(chan Result, 1)
	go func() {
		done <- s.run(loopCtx)
	}()

	var res Result
	select {
	case res = <-done:
	case <-deadline.C():
		cancel()
		// A loop that finished on its own in the same instant keeps its result.
		if res = <-done; res.State == StateCancelled {
			res.State = StateTimedOut
			res.Message = TimedOutMessage(p.policy.Timeout)
		}
	case <-ctx.Done():
		cancel()
		res = <-done
	}
	res.Elapsed = p.clock.Since(start)

	if res.State == StateTimedOut || res.State == StateCancelled {
		observe(Event{
			State:       res.State,
			Handle:      handle.String(),
			Attempt:     res.Attempts,
			MaxAttempts: p.policy.MaxAttempts,
			LastStatus:  res.LastStatus,
			At:          p.clock.Now(),
		})
	}

	span.SetAttributes(
		attribute.String("poll.state", string(res.State)),
		attribute.Int("poll.attempts", res.Attempts),
	)
	p.logger.InfoContext(ctx, "polling finished",
		slog.String("analysis_id", handle.String()),
		slog.String("state", string(res.State)),
		slog.Int("attempts", res.Attempts),
		slog.String("last_status", res.LastStatus),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res
}

// session holds the mutable state of one Poll call. Only run touches it.
type session struct {
	poller     *Poller
	handle     types.AnalysisHandle
	observe    Observer
	attempts   int
	lastStatus string
	last       *types.AnalysisSnapshot
}

func (s *session) result(state State) Result {
	return Result{
		State:      state,
		Snapshot:   s.last,
		Attempts:   s.attempts,
		LastStatus: s.lastStatus,
	}
}

func (s *session) emit(ev Event) {
	ev.Handle = s.handle.String()
	ev.Attempt = s.attempts
	ev.MaxAttempts = s.poller.policy.MaxAttempts
	ev.LastStatus = s.lastStatus
	ev.At = s.poller.clock.Now()
	s.observe(ev)
}

// run is the attempt loop. When ctx is cancelled it returns StateCancelled
// and Poll decides which terminal state applies.
func (s *session) run(ctx context.Context) Result {
	p := s.poller
	backoff := NewBackoff(p.policy)

	for {
		s.attempts++
		s.emit(Event{State: StateQuerying})

		ready, err := s.query(ctx)
		if ctx.Err() != nil {
			return s.result(StateCancelled)
		}
		if ready {
			s.emit(Event{
				State:   StateDone,
				Total:   s.last.TotalEngines(),
				Scanned: s.last.ScannedEngines(),
			})
			return s.result(StateDone)
		}

		if s.attempts >= p.policy.MaxAttempts {
			res := s.result(StateExhausted)
			res.Message = ExhaustedMessage(p.policy.MaxAttempts, s.lastStatus)
			s.emit(Event{State: StateExhausted})
			return res
		}

		wait := backoff.Next()
		ev := Event{State: StateWaiting, Wait: wait}
		if err != nil {
			ev.Error = err.Error()
		}
		if s.last != nil {
			ev.Total, ev.Scanned = s.last.TotalEngines(), s.last.ScannedEngines()
		}
		s.emit(ev)

		select {
		case <-ctx.Done():
			return s.result(StateCancelled)
		case <-p.clock.After(wait):
		}
	}
}

// query performs one status request and reports whether the snapshot is
// ready to summarize. Errors are returned for reporting only.
func (s *session) query(ctx context.Context) (bool, error) {
	p := s.poller
	ctx, span := p.tracer.Start(ctx, "poller.attempt", trace.WithAttributes(
		attribute.Int("poll.attempt", s.attempts),
	))
	defer span.End()

	snap, err := p.fetcher.GetAnalysis(ctx, s.handle)
	if err != nil {
		span.RecordError(err)
		p.logger.DebugContext(ctx, "status query failed",
			slog.String("analysis_id", s.handle.String()),
			slog.Int("attempt", s.attempts),
			slog.String("error", err.Error()),
		)
		return false, err
	}

	s.last = snap
	s.lastStatus = snap.Status.String()
	span.SetAttributes(attribute.String("analysis.status", s.lastStatus))

	if !snap.Status.IsCompleted() {
		return false, nil
	}

	ready := snap.ReachedThreshold(p.policy.CompletionThresholdPercent)
	if !ready {
		p.logger.DebugContext(ctx, "analysis completed below engine threshold",
			slog.String("analysis_id", s.handle.String()),
			slog.Int("total_engines", snap.TotalEngines()),
			slog.Int("scanned_engines", snap.ScannedEngines()),
		)
	}
	return ready, nil
}
