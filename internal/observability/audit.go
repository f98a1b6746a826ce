// ABOUTME: Audit trail for scan submissions, recorded outcomes and cancellations
// ABOUTME: Emits one structured "audit_event" record per security-relevant action

package observability

import (
	"context"
	"log/slog"
	"time"
)

// Audit event types.
const (
	EventTypeScan    = "SCAN"
	EventTypeHistory = "HISTORY"
)

// Audit actions.
const (
	ActionSubmit = "SUBMIT"
	ActionRecord = "RECORD"
	ActionCancel = "CANCEL"
)

// Audit results.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
)

// AuditLogger writes audit events. A nil *AuditLogger discards them.
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger, now: time.Now}
}

func (a *AuditLogger) log(ctx context.Context, level slog.Level, eventType, action, sessionID, result string, attrs ...slog.Attr) {
	if a == nil || a.logger == nil {
		return
	}
	base := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("action", action),
		slog.String("session_id", sessionID),
		slog.String("result", result),
		slog.String("correlation_id", FromContext(ctx).String()),
		slog.Time("timestamp", a.now().UTC()),
	}
	a.logger.LogAttrs(ctx, level, "audit_event", append(base, attrs...)...)
}

// LogScanSubmitted records a target accepted by the analysis service.
// URL targets are logged with credentials removed.
func (a *AuditLogger) LogScanSubmitted(ctx context.Context, sessionID, scanType, target, analysisID string) {
	a.log(ctx, slog.LevelInfo, EventTypeScan, ActionSubmit, sessionID, ResultSuccess,
		slog.String("scan_type", scanType),
		slog.String("target", RedactURL(target)),
		slog.String("analysis_id", analysisID),
	)
}

// LogScanRejected records a submission that failed before polling started.
func (a *AuditLogger) LogScanRejected(ctx context.Context, sessionID, scanType, target, reason string) {
	a.log(ctx, slog.LevelWarn, EventTypeScan, ActionSubmit, sessionID, ResultRejected,
		slog.String("scan_type", scanType),
		slog.String("target", RedactURL(target)),
		slog.String("reason", reason),
	)
}

// LogOutcomeRecorded records a history write.
func (a *AuditLogger) LogOutcomeRecorded(ctx context.Context, sessionID, outcomeID, verdict string, err error) {
	if err != nil {
		a.log(ctx, slog.LevelError, EventTypeHistory, ActionRecord, sessionID, ResultFailure,
			slog.String("outcome_id", outcomeID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.log(ctx, slog.LevelInfo, EventTypeHistory, ActionRecord, sessionID, ResultSuccess,
		slog.String("outcome_id", outcomeID),
		slog.String("verdict", verdict),
	)
}

// LogScanCancelled records a session cancelled before it finished.
func (a *AuditLogger) LogScanCancelled(ctx context.Context, sessionID, reason string) {
	a.log(ctx, slog.LevelInfo, EventTypeScan, ActionCancel, sessionID, ResultSuccess,
		slog.String("reason", reason),
	)
}
