// ABOUTME: ScanOutcome record persisted once per polling session
// ABOUTME: Carries scan type, target, verdict, malicious engine count and summary text

package types

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the stored classification of a scan.
type Verdict string

const (
	// VerdictSafe indicates no engine flagged the target.
	VerdictSafe Verdict = "safe"
	// VerdictSuspicious indicates a small number of engines flagged the target.
	VerdictSuspicious Verdict = "suspicious"
	// VerdictMalicious indicates several engines flagged the target.
	VerdictMalicious Verdict = "malicious"
	// VerdictUnknown indicates the scan did not produce engine counts.
	VerdictUnknown Verdict = "unknown"
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictSafe, VerdictSuspicious, VerdictMalicious:
		return string(v)
	default:
		return string(VerdictUnknown)
	}
}

// IsThreat returns true for suspicious or malicious verdicts.
func (v Verdict) IsThreat() bool {
	return v == VerdictSuspicious || v == VerdictMalicious
}

// ScanOutcome is the durable record of a finished (or abandoned) session.
// It is never mutated after creation.
type ScanOutcome struct {
	// Unique outcome identifier (UUID).
	ID string `json:"id"`

	// ScanType is the target kind ("file", "url", "phone").
	ScanType TargetKind `json:"scan_type"`

	// Target is the normalized target value.
	Target string `json:"target"`

	// Verdict derived from the summary text.
	Verdict Verdict `json:"verdict"`

	// MaliciousCount re-derived from the summary's "Malicious: N" line.
	MaliciousCount int `json:"malicious_count"`

	// Summary is the report text or the terminal status message.
	Summary string `json:"summary"`

	Timestamp time.Time `json:"timestamp"`
}

// NewScanOutcome creates an outcome with a fresh ID.
func NewScanOutcome(target ScanTarget, verdict Verdict, maliciousCount int, summary string, at time.Time) *ScanOutcome {
	return &ScanOutcome{
		ID:             uuid.New().String(),
		ScanType:       target.Kind(),
		Target:         target.Value(),
		Verdict:        verdict,
		MaliciousCount: maliciousCount,
		Summary:        summary,
		Timestamp:      at.UTC(),
	}
}

// TargetKey returns the index key for the outcome's target.
func (o *ScanOutcome) TargetKey() string {
	return string(o.ScanType) + ":" + o.Target
}
