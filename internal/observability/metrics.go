// ABOUTME: In-process scan workflow metrics for the health endpoint
// ABOUTME: Atomic outcome counters, poll attempt totals and session latency percentiles

package observability

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Scan outcome labels accepted by RecordSession.
const (
	OutcomeDone      = "done"
	OutcomeExhausted = "exhausted"
	OutcomeTimedOut  = "timed_out"
	OutcomeCancelled = "cancelled"
	OutcomeRejected  = "rejected"
)

const (
	maxLatencySamples  = 10000
	keptLatencySamples = 5000
)

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	ScansTotal     int64     `json:"scans_total"`
	ScansDone      int64     `json:"scans_done"`
	ScansExhausted int64     `json:"scans_exhausted"`
	ScansTimedOut  int64     `json:"scans_timed_out"`
	ScansCancelled int64     `json:"scans_cancelled"`
	ScansRejected  int64     `json:"scans_rejected"`
	PollAttempts   int64     `json:"poll_attempts"`
	ThreatsFound   int64     `json:"threats_found"`
	HistoryErrors  int64     `json:"history_errors"`
	ActiveScans    int64     `json:"active_scans"`
	Timestamp      time.Time `json:"timestamp"`
}

// String returns a human-readable representation.
func (s *MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"scans=%d (done=%d exhausted=%d timed_out=%d cancelled=%d rejected=%d) polls=%d threats=%d active=%d",
		s.ScansTotal, s.ScansDone, s.ScansExhausted, s.ScansTimedOut, s.ScansCancelled, s.ScansRejected,
		s.PollAttempts, s.ThreatsFound, s.ActiveScans,
	)
}

// LatencyPercentiles contains the session latency distribution.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50"`
	P90 time.Duration `json:"p90"`
	P99 time.Duration `json:"p99"`
	Max time.Duration `json:"max"`
}

// ScanMetrics collects workflow metrics. The zero value is not usable; use NewScanMetrics.
type ScanMetrics struct {
	scansTotal     atomic.Int64
	scansDone      atomic.Int64
	scansExhausted atomic.Int64
	scansTimedOut  atomic.Int64
	scansCancelled atomic.Int64
	scansRejected  atomic.Int64
	pollAttempts   atomic.Int64
	threatsFound   atomic.Int64
	historyErrors  atomic.Int64
	activeScans    atomic.Int64

	mu        sync.RWMutex
	latencies []time.Duration
	now       func() time.Time
}

// NewScanMetrics creates a metrics collector.
func NewScanMetrics() *ScanMetrics {
	return &ScanMetrics{
		latencies: make([]time.Duration, 0, 1000),
		now:       time.Now,
	}
}

// SessionStarted marks a session as active.
func (m *ScanMetrics) SessionStarted() {
	m.scansTotal.Add(1)
	m.activeScans.Add(1)
}

// RecordSession records how a session ended. Latency is only sampled for
// sessions that reached the poller.
func (m *ScanMetrics) RecordSession(outcome string, attempts int, duration time.Duration) {
	m.activeScans.Add(-1)
	m.pollAttempts.Add(int64(attempts))

	switch outcome {
	case OutcomeDone:
		m.scansDone.Add(1)
	case OutcomeExhausted:
		m.scansExhausted.Add(1)
	case OutcomeTimedOut:
		m.scansTimedOut.Add(1)
	case OutcomeCancelled:
		m.scansCancelled.Add(1)
	case OutcomeRejected:
		m.scansRejected.Add(1)
		return
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, duration)
	if len(m.latencies) > maxLatencySamples {
		m.latencies = m.latencies[len(m.latencies)-keptLatencySamples:]
	}
	m.mu.Unlock()
}

// RecordThreat counts a suspicious or malicious verdict.
func (m *ScanMetrics) RecordThreat() {
	m.threatsFound.Add(1)
}

// RecordHistoryError counts a failed history write.
func (m *ScanMetrics) RecordHistoryError() {
	m.historyErrors.Add(1)
}

// Snapshot returns a point-in-time snapshot of the counters.
func (m *ScanMetrics) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		ScansTotal:     m.scansTotal.Load(),
		ScansDone:      m.scansDone.Load(),
		ScansExhausted: m.scansExhausted.Load(),
		ScansTimedOut:  m.scansTimedOut.Load(),
		ScansCancelled: m.scansCancelled.Load(),
		ScansRejected:  m.scansRejected.Load(),
		PollAttempts:   m.pollAttempts.Load(),
		ThreatsFound:   m.threatsFound.Load(),
		HistoryErrors:  m.historyErrors.Load(),
		ActiveScans:    m.activeScans.Load(),
		Timestamp:      m.now(),
	}
}

// LatencyPercentiles returns session latency percentiles.
func (m *ScanMetrics) LatencyPercentiles() LatencyPercentiles {
	m.mu.RLock()
	sorted := slices.Clone(m.latencies)
	m.mu.RUnlock()

	if len(sorted) == 0 {
		return LatencyPercentiles{}
	}
	slices.Sort(sorted)

	return LatencyPercentiles{
		P50: percentile(sorted, 50),
		P90: percentile(sorted, 90),
		P99: percentile(sorted, 99),
		Max: sorted[len(sorted)-1],
	}
}

// percentile calculates the pth percentile of a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// String returns a summary string.
func (m *ScanMetrics) String() string {
	p := m.LatencyPercentiles()
	return fmt.Sprintf("%s p50=%v p99=%v", m.Snapshot(), p.P50, p.P99)
}
