// ABOUTME: Submission errors and the fixed caller-facing messages they render to
// ABOUTME: Classifies missing files, missing handles, remote rejections and transport failures

package gateway

import (
	"errors"
	"fmt"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// ErrorKind classifies a submission failure.
type ErrorKind string

const (
	// KindFileNotFound means the file target does not exist or is unreadable.
	KindFileNotFound ErrorKind = "file_not_found"
	// KindMissingHandle means the service accepted the request without an id.
	KindMissingHandle ErrorKind = "missing_handle"
	// KindRemoteRejected means the service answered with a non-2xx status.
	KindRemoteRejected ErrorKind = "remote_rejected"
	// KindUnsupportedTarget means the service cannot analyze this target kind.
	KindUnsupportedTarget ErrorKind = "unsupported_target"
	// KindTransport covers every other failure (network, staging, encoding).
	KindTransport ErrorKind = "transport"
)

// SubmissionError is returned by Gateway.Submit.
type SubmissionError struct {
	Kind       ErrorKind
	TargetKind types.TargetKind

	// StatusCode is the HTTP status for remote rejections.
	StatusCode int

	Err error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission %s: %v", e.Kind, e.Err)
	}
	return "submission " + string(e.Kind)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Message renders the error as the text returned to scan callers.
func (e *SubmissionError) Message() string {
	switch e.Kind {
	case KindFileNotFound:
		return "Error: File does not exist"
	case KindMissingHandle:
		return "Error: Could not get analysis ID"
	case KindRemoteRejected:
		if e.TargetKind == types.TargetKindFile {
			return fmt.Sprintf("Error uploading file. HTTP Status: %d", e.StatusCode)
		}
		return fmt.Sprintf("Error submitting URL. HTTP Status: %d", e.StatusCode)
	case KindUnsupportedTarget:
		return fmt.Sprintf("Error: %s number scanning is not supported by the analysis service", e.TargetKind)
	default:
		if e.Err != nil {
			return "Error: " + e.Err.Error()
		}
		return "Error: " + string(e.Kind)
	}
}

// KindOf returns the kind of a SubmissionError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsFileNotFound reports whether err is a missing-file submission error.
func IsFileNotFound(err error) bool {
	return KindOf(err) == KindFileNotFound
}

// IsRemoteRejected reports whether the service rejected the submission.
func IsRemoteRejected(err error) bool {
	return KindOf(err) == KindRemoteRejected
}
