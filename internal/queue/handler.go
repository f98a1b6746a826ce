// ABOUTME: NATS message handler for scan requests
// ABOUTME: Runs each request as a scan session and builds the reply from its final state

package queue

import (
	"context"
	"time"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// StatusError marks a request that could not be started.
const StatusError = "error"

// Scanner is the workflow surface the handler drives.
type Scanner interface {
	Start(ctx context.Context, target types.ScanTarget) (types.Session, error)
	Wait(ctx context.Context, id string) (types.Session, error)
	Cancel(id string) error
}

// Handler processes scan requests.
type Handler struct {
	scanner Scanner
}

// NewHandler creates a new message handler.
func NewHandler(scanner Scanner) *Handler {
	return &Handler{scanner: scanner}
}

// ProcessRequest runs one scan and returns the reply. If ctx ends before the
// session does, the session is cancelled and its final state reported.
func (h *Handler) ProcessRequest(ctx context.Context, req ScanRequest) ScanResponse {
	start := time.Now()
	resp := ScanResponse{
		RequestID: req.RequestID,
		ScanType:  req.Type,
		Target:    req.Target,
	}
	finish := func() ScanResponse {
		resp.DurationMs = float64(time.Since(start).Microseconds()) / 1000
		resp.ScannedAt = time.Now().UTC()
		return resp
	}

	target, err := types.ParseTarget(req.Type, req.Target)
	if err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		return finish()
	}

	sess, err := h.scanner.Start(ctx, target)
	if err != nil {
		resp.Status = StatusError
		resp.Error = err.Error()
		return finish()
	}
	resp.SessionID = sess.ID
	resp.ScanType = sess.ScanType.String()
	resp.Target = sess.Target

	final, err := h.scanner.Wait(ctx, sess.ID)
	if err != nil {
		// The requester gave up; stop the session and report what it became.
		_ = h.scanner.Cancel(sess.ID)
		final, err = h.scanner.Wait(context.Background(), sess.ID)
		if err != nil {
			resp.Status = StatusError
			resp.Error = err.Error()
			return finish()
		}
	}

	resp.Status = final.Status.String()
	resp.Result = final.Result
	resp.Attempts = final.Attempts
	if final.Outcome != nil {
		resp.Verdict = final.Outcome.Verdict.String()
		resp.MaliciousCount = final.Outcome.MaliciousCount
	}
	return finish()
}
