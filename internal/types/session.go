// ABOUTME: Session type tracking one scan workflow run with a state machine
// ABOUTME: Moves from pending through submitting and polling to a terminal state

package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the current state of a scan session.
type SessionStatus string

const (
	// SessionStatusPending indicates the session was created but not started.
	SessionStatusPending SessionStatus = "pending"
	// SessionStatusSubmitting indicates the target is being submitted.
	SessionStatusSubmitting SessionStatus = "submitting"
	// SessionStatusPolling indicates the analysis is being polled.
	SessionStatusPolling SessionStatus = "polling"
	// SessionStatusCompleted indicates a result string was produced.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusFailed indicates submission failed before polling.
	SessionStatusFailed SessionStatus = "failed"
	// SessionStatusCancelled indicates the caller abandoned the session.
	SessionStatusCancelled SessionStatus = "cancelled"
)

// String returns the string representation of the session status.
func (s SessionStatus) String() string {
	switch s {
	case SessionStatusPending, SessionStatusSubmitting, SessionStatusPolling,
		SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return string(s)
	default:
		return "unknown"
	}
}

// IsTerminal returns true if the status is a final state.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// Session tracks a scan workflow run.
type Session struct {
	// Unique session identifier (UUID).
	ID string `json:"id"`

	Status SessionStatus `json:"status"`

	ScanType TargetKind `json:"scan_type"`
	Target   string     `json:"target"`

	// Handle is set once submission succeeds.
	Handle AnalysisHandle `json:"handle,omitempty"`

	// Attempts is the number of poll attempts made so far.
	Attempts int `json:"attempts"`

	// LastStatus is the last remote analysis status observed.
	LastStatus string `json:"last_status,omitempty"`

	// Result is the text returned to the caller (set when terminal).
	Result string `json:"result,omitempty"`

	// Outcome is set when the session produced a recorded outcome.
	Outcome *ScanOutcome `json:"outcome,omitempty"`

	// Timestamps.
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewSession creates a new pending session for a target.
func NewSession(target ScanTarget) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Status:    SessionStatusPending,
		ScanType:  target.Kind(),
		Target:    target.Value(),
		CreatedAt: time.Now().UTC(),
	}
}

// StartSubmitting transitions the session from pending to submitting.
func (s *Session) StartSubmitting() error {
	if s.Status != SessionStatusPending {
		return fmt.Errorf("cannot submit session in %s status", s.Status)
	}
	now := time.Now().UTC()
	s.Status = SessionStatusSubmitting
	s.StartedAt = &now
	return nil
}

// StartPolling records the analysis handle and moves to polling.
func (s *Session) StartPolling(handle AnalysisHandle) error {
	if s.Status != SessionStatusSubmitting {
		return fmt.Errorf("cannot poll session in %s status", s.Status)
	}
	if err := handle.Validate(); err != nil {
		return err
	}
	s.Status = SessionStatusPolling
	s.Handle = handle
	return nil
}

// Complete transitions the session to completed with the caller result.
func (s *Session) Complete(result string, outcome *ScanOutcome) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("cannot complete session in %s status", s.Status)
	}
	now := time.Now().UTC()
	s.Status = SessionStatusCompleted
	s.Result = result
	s.Outcome = outcome
	s.CompletedAt = &now
	return nil
}

// Fail transitions the session to failed with the caller result.
func (s *Session) Fail(result string) error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("cannot fail session in %s status", s.Status)
	}
	now := time.Now().UTC()
	s.Status = SessionStatusFailed
	s.Result = result
	s.CompletedAt = &now
	return nil
}

// Cancel transitions the session to cancelled.
func (s *Session) Cancel() error {
	if s.Status.IsTerminal() {
		return fmt.Errorf("cannot cancel session in %s status", s.Status)
	}
	now := time.Now().UTC()
	s.Status = SessionStatusCancelled
	s.CompletedAt = &now
	return nil
}

// Duration returns the session duration.
// For running sessions, returns time since start; for pending sessions, 0.
func (s *Session) Duration() time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	if s.CompletedAt != nil {
		return s.CompletedAt.Sub(*s.StartedAt)
	}
	return time.Since(*s.StartedAt)
}
