// ABOUTME: Scan workflow tying submission, polling, aggregation and history together
// ABOUTME: Keeps a registry of sessions for status queries, cancellation and event streams

package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/gateway"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/history"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/observability"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/poller"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/report"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// CancelledMessage is the result text of a cancelled session.
const CancelledMessage = "Scan cancelled."

const (
	defaultSubscriberBuffer = 64
	defaultRetention        = time.Hour
	defaultSaveTimeout      = 10 * time.Second
)

var (
	// ErrSessionNotFound is returned for unknown or pruned session ids.
	ErrSessionNotFound = errors.New("scan session not found")

	// ErrSessionFinished is returned when cancelling a terminal session.
	ErrSessionFinished = errors.New("scan session already finished")

	// ErrServiceClosed is returned by Start after Close.
	ErrServiceClosed = errors.New("scan service closed")

	// ErrCancelledByCaller is the cancellation cause recorded by Cancel.
	ErrCancelledByCaller = errors.New("cancelled by caller")
)

// Submitter issues the initial scan request.
type Submitter interface {
	Submit(ctx context.Context, target types.ScanTarget) (types.AnalysisHandle, error)
}

// AnalysisPoller drives an analysis handle to a terminal state.
type AnalysisPoller interface {
	Poll(ctx context.Context, handle types.AnalysisHandle, observe poller.Observer) poller.Result
}

// Notifier is told about every recorded outcome so history views can reload.
type Notifier interface {
	NotifyOutcome(ctx context.Context, outcome *types.ScanOutcome) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, outcome *types.ScanOutcome) error

func (f NotifierFunc) NotifyOutcome(ctx context.Context, outcome *types.ScanOutcome) error {
	return f(ctx, outcome)
}

// Config holds the workflow's collaborators. Submitter and Poller are required.
type Config struct {
	Submitter Submitter
	Poller    AnalysisPoller

	// Recorder is optional; without it outcomes are not persisted.
	Recorder history.Recorder
	Notifier Notifier

	Metrics *observability.ScanMetrics
	Audit   *observability.AuditLogger
	Logger  *slog.Logger
	Clock   clock.PassiveClock

	// SubscriberBuffer is the per-subscriber event buffer.
	SubscriberBuffer int

	// Retention keeps finished sessions queryable for this long.
	Retention time.Duration

	// SaveTimeout bounds the history write, which outlives caller cancellation.
	SaveTimeout time.Duration
}

// Service runs scan sessions. It is safe for concurrent use.
type Service struct {
	submitter Submitter
	poller    AnalysisPoller
	recorder  history.Recorder
	notifier  Notifier
	metrics   *observability.ScanMetrics
	audit     *observability.AuditLogger
	logger    *slog.Logger
	clock     clock.PassiveClock
	tracer    trace.Tracer

	subscriberBuffer int
	retention        time.Duration
	saveTimeout      time.Duration

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	sessions map[string]*entry
}

// entry is one registered session. All fields except target, cancel and
// done are guarded by Service.mu.
type entry struct {
	session types.Session
	target  types.ScanTarget
	cancel  context.CancelCauseFunc
	done    chan struct{}
	subs    subscribers
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if cfg.Poller == nil {
		return nil, errors.New("poller is required")
	}

	s := &Service{
		submitter:        cfg.Submitter,
		poller:           cfg.Poller,
		recorder:         cfg.Recorder,
		notifier:         cfg.Notifier,
		metrics:          cfg.Metrics,
		audit:            cfg.Audit,
		logger:           cfg.Logger,
		clock:            cfg.Clock,
		tracer:           otel.Tracer("hikmaai-sentinel/scan"),
		subscriberBuffer: cfg.SubscriberBuffer,
		retention:        cfg.Retention,
		saveTimeout:      cfg.SaveTimeout,
		sessions:         make(map[string]*entry),
	}
	if s.metrics == nil {
		s.metrics = observability.NewScanMetrics()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "scan"))
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.subscriberBuffer <= 0 {
		s.subscriberBuffer = defaultSubscriberBuffer
	}
	if s.retention <= 0 {
		s.retention = defaultRetention
	}
	if s.saveTimeout <= 0 {
		s.saveTimeout = defaultSaveTimeout
	}
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	return s, nil
}

// Metrics returns the service's metrics collector.
func (s *Service) Metrics() *observability.ScanMetrics {
	return s.metrics
}

// Scan runs a session to completion and returns its result text. It never
// fails: submission errors, exhaustion, time-outs and cancellation all come
// back as the text shown to the user.
func (s *Service) Scan(ctx context.Context, target types.ScanTarget) string {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	e := s.register(target, cancel)

	return s.run(ctx, e)
}

// Start runs a session in the background and returns its initial state.
// The session outlives ctx; only Cancel or Close stop it. ctx contributes
// its correlation id.
func (s *Service) Start(ctx context.Context, target types.ScanTarget) (types.Session, error) {
	if target.IsZero() {
		return types.Session{}, types.ErrEmptyTarget
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.Session{}, ErrServiceClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancelCause(s.baseCtx)
	if id := observability.FromContext(ctx); id != "" {
		runCtx = observability.WithCorrelationID(runCtx, id)
	}
	e := s.register(target, cancel)

	snapshot := s.snapshot(e)
	go func() {
		defer s.wg.Done()
		defer cancel(nil)
		s.run(runCtx, e)
	}()
	return snapshot, nil
}

// Get returns a copy of the session.
func (s *Service) Get(id string) (types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[id]
	if !ok {
		return types.Session{}, false
	}
	return e.session, true
}

// Wait blocks until the session is terminal or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (types.Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return types.Session{}, ErrSessionNotFound
	}

	select {
	case <-e.done:
		return s.snapshot(e), nil
	case <-ctx.Done():
		return types.Session{}, ctx.Err()
	}
}

// Cancel stops a running session. The session ends as cancelled and records
// no outcome.
func (s *Service) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if e.session.Status.IsTerminal() {
		return ErrSessionFinished
	}
	e.cancel(ErrCancelledByCaller)
	return nil
}

// Subscribe streams the session's events. The channel is closed after the
// final event (or immediately, after a final event, for finished sessions).
// The returned func unsubscribes early.
func (s *Service) Subscribe(id string) (<-chan Event, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	if e.session.Status.IsTerminal() {
		ch := make(chan Event, 1)
		ch <- s.statusEvent(e)
		close(ch)
		return ch, func() {}, nil
	}

	subID, ch := e.subs.add(s.subscriberBuffer)
	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		e.subs.remove(subID)
	}
	return ch, unsubscribe, nil
}

// Close cancels running sessions and waits for them to finish.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.baseCancel()
	s.wg.Wait()
	return nil
}

func (s *Service) register(target types.ScanTarget, cancel context.CancelCauseFunc) *entry {
	e := &entry{
		session: *types.NewSession(target),
		target:  target,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	s.sessions[e.session.ID] = e
	return e
}

// pruneLocked drops finished sessions older than the retention window.
// Session timestamps are wall-clock, so the cutoff is too.
func (s *Service) pruneLocked() {
	cutoff := time.Now().Add(-s.retention)
	for id, e := range s.sessions {
		if c := e.session.CompletedAt; c != nil && c.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

func (s *Service) snapshot(e *entry) types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.session
}

func (s *Service) statusEvent(e *entry) Event {
	return Event{
		SessionID: e.session.ID,
		Type:      EventStatus,
		Status:    e.session.Status,
		Result:    e.session.Result,
		At:        s.clock.Now(),
	}
}

// transition applies fn to the session and publishes the new status.
func (s *Service) transition(e *entry, fn func(*types.Session) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fn(&e.session); err != nil {
		s.logger.Warn("invalid session transition",
			slog.String("session_id", e.session.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.publishLocked(e, s.statusEvent(e))

	if e.session.Status.IsTerminal() {
		e.subs.closeAll()
		close(e.done)
	}
}

func (s *Service) publishLocked(e *entry, ev Event) {
	if dropped := e.subs.publish(ev); dropped > 0 {
		s.logger.Debug("dropped session event for slow subscribers",
			slog.String("session_id", e.session.ID),
			slog.Int("subscribers", dropped),
		)
	}
}

func (s *Service) onPoll(e *entry, ev poller.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.session.Attempts = ev.Attempt
	if ev.LastStatus != "" {
		e.session.LastStatus = ev.LastStatus
	}
	s.publishLocked(e, Event{
		SessionID: e.session.ID,
		Type:      EventPoll,
		Status:    e.session.Status,
		Poll:      &ev,
		At:        ev.At,
	})
}

func (s *Service) run(ctx context.Context, e *entry) string {
	ctx, _ = observability.EnsureCorrelationID(ctx)
	ctx, span := s.tracer.Start(ctx, "scan.Session", trace.WithAttributes(
		attribute.String("session.id", e.session.ID),
		attribute.String("target.kind", e.target.Kind().String()),
	))
	defer span.End()

	start := s.clock.Now()
	s.metrics.SessionStarted()
	s.transition(e, (*types.Session).StartSubmitting)

	handle, err := s.submitter.Submit(ctx, e.target)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancelled(ctx, e, 0, start)
		}
		msg := submissionMessage(err)
		span.SetAttributes(attribute.String("scan.result", "rejected"))
		s.audit.LogScanRejected(ctx, e.session.ID, e.target.Kind().String(), e.target.Value(), msg)
		s.metrics.RecordSession(observability.OutcomeRejected, 0, s.clock.Since(start))
		s.transition(e, func(sess *types.Session) error { return sess.Fail(msg) })
		return msg
	}

	s.transition(e, func(sess *types.Session) error { return sess.StartPolling(handle) })
	s.audit.LogScanSubmitted(ctx, e.session.ID, e.target.Kind().String(), e.target.Value(), handle.String())

	res := s.poller.Poll(ctx, handle, func(ev poller.Event) { s.onPoll(e, ev) })
	if res.State == poller.StateCancelled {
		return s.cancelled(ctx, e, res.Attempts, start)
	}

	summary := res.Message
	if res.State == poller.StateDone {
		summary = s.aggregate(ctx, res.Snapshot)
	}

	outcome := history.NewOutcome(e.target, summary, s.clock.Now())
	if outcome.Verdict.IsThreat() {
		s.metrics.RecordThreat()
	}
	s.record(ctx, e, outcome)

	span.SetAttributes(
		attribute.String("scan.result", string(res.State)),
		attribute.String("scan.verdict", outcome.Verdict.String()),
	)
	s.metrics.RecordSession(string(res.State), res.Attempts, s.clock.Since(start))
	s.transition(e, func(sess *types.Session) error { return sess.Complete(summary, outcome) })

	s.logger.InfoContext(ctx, "scan finished",
		slog.String("session_id", e.session.ID),
		slog.String("analysis_id", handle.String()),
		slog.String("state", string(res.State)),
		slog.String("verdict", outcome.Verdict.String()),
		slog.Int("malicious", outcome.MaliciousCount),
	)
	return summary
}

func (s *Service) aggregate(ctx context.Context, snap *types.AnalysisSnapshot) string {
	_, span := s.tracer.Start(ctx, "report.Aggregate")
	defer span.End()
	rep := report.Aggregate(snap)
	span.SetAttributes(
		attribute.Int("report.malicious", rep.MaliciousCount),
		attribute.Int("report.engines", rep.TotalEngines),
	)
	return rep.Text
}

// record persists the outcome. Failures are logged; the scan result stands.
func (s *Service) record(ctx context.Context, e *entry, outcome *types.ScanOutcome) {
	if s.recorder == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.saveTimeout)
	defer cancel()
	saveCtx, span := s.tracer.Start(saveCtx, "history.SaveScanOutcome")
	defer span.End()

	err := s.recorder.SaveScanOutcome(saveCtx, outcome)
	s.audit.LogOutcomeRecorded(saveCtx, e.session.ID, outcome.ID, outcome.Verdict.String(), err)
	if err != nil {
		span.RecordError(err)
		s.metrics.RecordHistoryError()
		s.logger.ErrorContext(ctx, "failed to record scan outcome",
			slog.String("session_id", e.session.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOutcome(saveCtx, outcome); err != nil {
		s.logger.WarnContext(ctx, "failed to publish outcome notification",
			slog.String("outcome_id", outcome.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) cancelled(ctx context.Context, e *entry, attempts int, start time.Time) string {
	reason := "context cancelled"
	if cause := context.Cause(ctx); cause != nil {
		reason = cause.Error()
	}
	s.audit.LogScanCancelled(context.WithoutCancel(ctx), e.session.ID, reason)
	s.metrics.RecordSession(observability.OutcomeCancelled, attempts, s.clock.Since(start))
	s.transition(e, func(sess *types.Session) error {
		if err := sess.Cancel(); err != nil {
			return err
		}
		sess.Result = CancelledMessage
		return nil
	})
	return CancelledMessage
}

func submissionMessage(err error) string {
	var se *gateway.SubmissionError
	if errors.As(err, &se) {
		return se.Message()
	}
	return fmt.Sprintf("Error: %v", err)
}
