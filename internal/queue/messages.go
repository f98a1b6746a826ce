// ABOUTME: Message types for NATS request/reply and outcome notifications
// ABOUTME: Defines ScanRequest, ScanResponse and OutcomeMessage structures

package queue

import (
	"time"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// ScanRequest is the message sent to request a scan.
type ScanRequest struct {
	// Optional request ID for correlation.
	RequestID string `json:"request_id,omitempty"`

	// Target type: "file", "url" or "phone".
	Type string `json:"type"`

	// File path (or gs:// URI), URL or phone number.
	Target string `json:"target"`

	// Optional metadata, echoed in logs only.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ScanResponse is the reply to a ScanRequest.
type ScanResponse struct {
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	ScanType string `json:"scan_type,omitempty"`
	Target   string `json:"target,omitempty"`

	// Session status: "completed", "failed", "cancelled", or "error" when
	// the request could not be started.
	Status string `json:"status"`

	// Result is the text a caller would see from a synchronous scan.
	Result string `json:"result,omitempty"`

	Verdict        string `json:"verdict,omitempty"`
	MaliciousCount int    `json:"malicious_count"`
	Attempts       int    `json:"attempts"`

	// Error describes a request that never reached the workflow.
	Error string `json:"error,omitempty"`

	DurationMs float64   `json:"duration_ms"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// OutcomeMessage is published for every recorded outcome.
type OutcomeMessage struct {
	OutcomeID      string    `json:"outcome_id"`
	ScanType       string    `json:"scan_type"`
	Target         string    `json:"target"`
	Verdict        string    `json:"verdict"`
	MaliciousCount int       `json:"malicious_count"`
	Summary        string    `json:"summary"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewOutcomeMessage converts a recorded outcome for publishing.
func NewOutcomeMessage(o *types.ScanOutcome) OutcomeMessage {
	return OutcomeMessage{
		OutcomeID:      o.ID,
		ScanType:       o.ScanType.String(),
		Target:         o.Target,
		Verdict:        o.Verdict.String(),
		MaliciousCount: o.MaliciousCount,
		Summary:        o.Summary,
		Timestamp:      o.Timestamp,
	}
}
