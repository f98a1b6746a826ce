// ABOUTME: Tests for the poller state machine driven by a fake clock
// ABOUTME: Covers completion threshold, attempt exhaustion, wall-clock timeout and cancellation

package poller

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// notifyingClock reports every wait the poller starts, after the waiter is
// registered, so tests can step time deterministically.
type notifyingClock struct {
	*testingclock.FakeClock
	waits chan time.Duration
}

func newNotifyingClock() *notifyingClock {
	return &notifyingClock{
		FakeClock: testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		waits:     make(chan time.Duration, 64),
	}
}

func (c *notifyingClock) After(d time.Duration) <-chan time.Time {
	ch := c.FakeClock.After(d)
	c.waits <- d
	return ch
}

type reply struct {
	snap *types.AnalysisSnapshot
	err  error
}

// scriptedFetcher replays replies in order and repeats the last one.
type scriptedFetcher struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	handles []types.AnalysisHandle
}

func (f *scriptedFetcher) GetAnalysis(_ context.Context, handle types.AnalysisHandle) (*types.AnalysisSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.replies[min(f.calls, len(f.replies)-1)]
	f.calls++
	f.handles = append(f.handles, handle)
	return r.snap, r.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func snapshot(status types.AnalysisStatus, total, scanned int) *types.AnalysisSnapshot {
	results := make(map[string]types.EngineVerdict, total)
	for i := 0; i < total; i++ {
		name := fmt.Sprintf("engine-%02d", i)
		v := types.EngineVerdict{EngineName: name, Category: types.CategoryUndetected}
		if i < scanned {
			label := "clean"
			v.ResultLabel = &label
		}
		results[name] = v
	}
	return &types.AnalysisSnapshot{Status: status, EngineResults: results}
}

func queued() reply { return reply{snap: snapshot(types.AnalysisStatusQueued, 0, 0)} }

func completed(total, scanned int) reply {
	return reply{snap: snapshot(types.AnalysisStatusCompleted, total, scanned)}
}

func newTestPoller(t *testing.T, f AnalysisFetcher, c *notifyingClock) *Poller {
	t.Helper()
	p, err := New(f, DefaultPolicy(), WithClock(c))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

// drive runs Poll and answers the i-th wait (1-based) by stepping step(i, d).
func drive(t *testing.T, ctx context.Context, p *Poller, c *notifyingClock, observe Observer, step func(i int, d time.Duration) time.Duration) Result {
	t.Helper()

	resCh := make(chan Result, 1)
	go func() {
		resCh <- p.Poll(ctx, "analysis-1", observe)
	}()

	for i := 1; ; i++ {
		select {
		case res := <-resCh:
			return res
		case d := <-c.waits:
			if s := step(i, d); s > 0 {
				c.Step(s)
			}
		case <-time.After(10 * time.Second):
			t.Fatal("poller stalled")
		}
	}
}

func stepWait(_ int, d time.Duration) time.Duration { return d }

func TestPoll_DoneOnFirstAttempt(t *testing.T) {
	t.Parallel()

	c := newNotifyingClock()
	f := &scriptedFetcher{replies: []reply{completed(60, 58)}}
	p := newTestPoller(t, f, c)

	res := drive(t, context.Background(), p, c, nil, stepWait)

	if res.State != StateDone {
		t.Fatalf("State = %v, want done", res.State)
	}
	if res.Attempts != 1 || f.Calls() != 1 {
		t.Errorf("attempts = %d calls = %d, want 1", res.Attempts, f.Calls())
	}
	if res.Snapshot == nil || res.Snapshot.ScannedEngines() != 58 {
		t.Errorf("final snapshot = %+v", res.Snapshot)
	}
	if res.Message != "" {
		t.Errorf("Message = %q, want empty", res.Message)
	}
	if res.Elapsed != 0 {
		t.Errorf("Elapsed = %v, want 0", res.Elapsed)
	}
}

func TestPoll_CompletedBelowThresholdKeepsWaiting(t *testing.T) {
	t.Parallel()

	c := newNotifyingClock()
	f := &scriptedFetcher{replies: []reply{
		completed(60, 50),
		completed(60, 53),
		completed(0, 0),
		completed(60, 54),
	}}
	p := newTestPoller(t, f, c)

	res := drive(t, context.Background(), p, c, nil, stepWait)

	if res.State != StateDone {
		t.Fatalf("State = %v, want done", res.State)
	}
	if res.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", res.Attempts)
	}
	if res.Elapsed != 15*time.Second {
		t.Errorf("Elapsed = %v, want 15s", res.Elapsed)
	}
}

func TestPoll_ExhaustsAttemptBudget(t *testing.T) {
	t.Parallel()

	c := newNotifyingClock()
	f := &scriptedFetcher{replies: []reply{queued()}}
	p := newTestPoller(t, f, c)

	waits := 0
	res := drive(t, context.Background(), p, c, nil, func(i int, d time.Duration) time.Duration {
		waits = i
		if d != DefaultInterval {
			t.Errorf("wait %d = %v, want %v", i, d, DefaultInterval)
		}
		return d
	})

	if res.State != StateExhausted {
		t.Fatalf("State = %v, want exhausted", res.State)
	}
	if got := f.Calls(); got != 15 {
		t.Errorf("status queries = %d, want 15", got)
	}
	if waits != 14 {
		t.Errorf("waits = %d, want 14", waits)
	}
	if want := "Scan did not complete in 15 attempts. Last status: queued"; res.Message != want {
		t.Errorf("Message = %q, want %q", res.Message, want)
	}
	if res.Elapsed != 70*time.Second {
		t.Errorf("Elapsed = %v, want 70s", res.Elapsed)
	}

	for i, h := range f.handles {
		if h != "analysis-1" {
			t.Errorf("query %d used handle %q", i, h)
		}
	}
}

func TestPoll_TransportErrorsConsumeAttempts(t *testing.T) {
	t.Parallel()

	c := newNotifyingClock()
	errDown := errors.New("connection reset")
	f := &scriptedFetcher{replies: []reply{
		{err: errDown},
		{err: errDown},
		completed(10, 10),
	}}
	p := newTestPoller(t, f, c)

	var events []Event
	res := drive(t, context.Background(), p, c, func(ev Event) { events = append(events, ev) }, stepWait)

	if res.State != StateDone || res.Attempts != 3 {
		t.Fatalf("State = %v Attempts = %d, want done after 3", res.State, res.Attempts)
	}

	var errored int
	for _, ev := range events {
		if ev.State == StateWaiting && ev.Error == errDown.Error() {
			errored++
		}
	}
	if errored != 2 {
		t.Errorf("waiting events with error = %d, want 2", errored)
	}
}

func TestPoll_ExhaustedWithoutAnyStatus(t *testing.T) {
	t.Parallel()

	c := newNotifyingClock()
	f := &scriptedFetcher{replies: []reply{{err: errors.New("boom")}}}
	p, err := New(f, Policy{
		MaxAttempts:                2,
		Interval:                   time.Second,
		Timeout:                    time.Minute,
		CompletionThresholdPercent: 90,
	}, WithClock(c))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res := drive(t, context.Background(), p, c, nil, stepWait)

	if want := "Scan did not complete in 2 attempts. Last status: unknown"; res.Message != want {
		t.Errorf("Message = %q, want %q", res.Message, want)
	}
}

func TestPoll_WallClockTimeoutWhileWaiting(t *testing.T) {
	t.Parallel()

	c := newNotifyingClock()
	f := &scriptedFetcher{replies: []reply{queued()}}
	p := newTestPoller(t, f, c)

	res := drive(t, context.Background(), p, c, nil, func(i int, d time.Duration) time.Duration {
		switch {
		case i < 5:
			return d
		case i == 5:
			// Jump to the deadline while waiting after attempt 5.
			return 100 * time.Second
		default:
			return 0
		}
	})

	if res.State != StateTimedOut {
		t.Fatalf("State = %v, want timed_out", res.State)
	}
	if want := "Scan timed out after waiting 120 seconds."; res.Message != want {
		t.Errorf("Message = %q, want %q", res.Message, want)
	}
	if res.Attempts < 5 || res.Attempts >= DefaultMaxAttempts {
		t.Errorf("Attempts = %d, want between 5 and 14", res.Attempts)
	}
	if res.Elapsed != DefaultTimeout {
		t.Errorf("Elapsed = %v, want %v", res.Elapsed, DefaultTimeout)
	}
}

// hangingFetcher blocks until its context ends.
type hangingFetcher struct {
	entered chan struct{}
}

func (f *hangingFetcher) GetAnalysis(ctx context.Context, _ types.AnalysisHandle) (*types.AnalysisSnapshot, error) {
	f.entered <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPoll_TimeoutCancelsInFlightQuery(t *testing.T) {
	t.Parallel()

	c := newNotifyingClock()
	f := &hangingFetcher{entered: make(chan struct{}, 1)}
	p := newTestPoller(t, f, c)

	resCh := make(chan Result, 1)
	go func() {
		resCh <- p.Poll(context.Background(), "analysis-1", nil)
	}()

	<-f.entered
	c.Step(DefaultTimeout)

	select {
	case res := <-resCh:
		if res.State != StateTimedOut || res.Attempts != 1 {
			t.Errorf("State = %v Attempts = %d, want timed_out after 1", res.State, res.Attempts)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Poll did not return after the deadline")
	}
}

func TestPoll_CallerCancellation(t *testing.T) {
	t.Parallel()

	c := newNotifyingClock()
	f := &scriptedFetcher{replies: []reply{queued()}}
	p := newTestPoller(t, f, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		events []Event
	)
	observe := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	res := drive(t, ctx, p, c, observe, func(i int, d time.Duration) time.Duration {
		if i == 2 {
			cancel()
			return 0
		}
		return d
	})

	if res.State != StateCancelled {
		t.Fatalf("State = %v, want cancelled", res.State)
	}
	if res.Message != "" {
		t.Errorf("Message = %q, want empty", res.Message)
	}

	mu.Lock()
	defer mu.Unlock()
	if last := events[len(events)-1]; last.State != StateCancelled {
		t.Errorf("last event = %v, want cancelled", last.State)
	}
}

func TestPoll_EventSequence(t *testing.T) {
	t.Parallel()

	c := newNotifyingClock()
	f := &scriptedFetcher{replies: []reply{queued(), completed(4, 4)}}
	p := newTestPoller(t, f, c)

	var events []Event
	drive(t, context.Background(), p, c, func(ev Event) { events = append(events, ev) }, stepWait)

	want := []struct {
		state   State
		attempt int
	}{
		{StateQuerying, 1},
		{StateWaiting, 1},
		{StateQuerying, 2},
		{StateDone, 2},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %+v", events)
	}
	for i, w := range want {
		if events[i].State != w.state || events[i].Attempt != w.attempt {
			t.Errorf("event[%d] = %s/%d, want %s/%d", i, events[i].State, events[i].Attempt, w.state, w.attempt)
		}
		if events[i].MaxAttempts != DefaultMaxAttempts || events[i].Handle != "analysis-1" {
			t.Errorf("event[%d] header = %+v", i, events[i])
		}
	}
	if events[1].Wait != DefaultInterval || events[1].LastStatus != "queued" {
		t.Errorf("waiting event = %+v", events[1])
	}
	if events[3].Total != 4 || events[3].Scanned != 4 {
		t.Errorf("done event = %+v", events[3])
	}
}

// TestPoll_LivenessBound replays random reply sequences and checks every
// session ends within the attempt budget and the wall-clock limit.
func TestPoll_LivenessBound(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 11))
	policy := DefaultPolicy()
	bound := min(time.Duration(policy.MaxAttempts)*policy.Interval, policy.Timeout)

	for run := 0; run < 50; run++ {
		replies := make([]reply, policy.MaxAttempts)
		for i := range replies {
			switch rng.IntN(4) {
			case 0:
				replies[i] = queued()
			case 1:
				replies[i] = reply{err: errors.New("transient")}
			case 2:
				replies[i] = completed(20, rng.IntN(18))
			default:
				replies[i] = completed(20, 18+rng.IntN(3))
			}
		}

		c := newNotifyingClock()
		f := &scriptedFetcher{replies: replies}
		p := newTestPoller(t, f, c)

		res := drive(t, context.Background(), p, c, nil, stepWait)

		if !res.State.IsTerminal() || res.State == StateCancelled {
			t.Fatalf("run %d: State = %v", run, res.State)
		}
		if res.Attempts > policy.MaxAttempts {
			t.Errorf("run %d: Attempts = %d", run, res.Attempts)
		}
		if res.Elapsed > bound {
			t.Errorf("run %d: Elapsed = %v exceeds %v", run, res.Elapsed, bound)
		}
		if res.State == StateDone && !res.Snapshot.ReachedThreshold(policy.CompletionThresholdPercent) {
			t.Errorf("run %d: done below threshold", run)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, DefaultPolicy()); err == nil {
		t.Error("New(nil) should fail")
	}
	if _, err := New(&scriptedFetcher{}, Policy{}); err == nil {
		t.Error("New() with zero policy should fail")
	}
}
