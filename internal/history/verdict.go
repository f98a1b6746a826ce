// ABOUTME: Verdict policy deriving a stored classification from summary text
// ABOUTME: Re-reads the malicious engine count so history only depends on the text

package history

import (
	"time"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/report"
	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// Malicious-count thresholds for verdict classification.
const (
	SuspiciousThreshold = 1
	MaliciousThreshold  = 3
)

// DetermineVerdict classifies a summary by its "Malicious: N" line.
// Summaries without that line (terminal status messages) are unknown.
func DetermineVerdict(summary string) (types.Verdict, int) {
	count, ok := report.ExtractMaliciousCount(summary)
	if !ok {
		return types.VerdictUnknown, 0
	}
	switch {
	case count >= MaliciousThreshold:
		return types.VerdictMalicious, count
	case count >= SuspiciousThreshold:
		return types.VerdictSuspicious, count
	default:
		return types.VerdictSafe, count
	}
}

// NewOutcome builds the record for a finished session from its summary text.
func NewOutcome(target types.ScanTarget, summary string, at time.Time) *types.ScanOutcome {
	verdict, count := DetermineVerdict(summary)
	return types.NewScanOutcome(target, verdict, count, summary, at)
}
