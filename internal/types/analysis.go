// ABOUTME: Analysis handle, engine verdict, and snapshot types for remote analyses
// ABOUTME: Snapshots are point-in-time reads replaced wholesale on every poll

package types

import (
	"errors"
	"time"
)

// AnalysisHandle is the opaque identifier issued by the scanning service.
type AnalysisHandle string

// ErrEmptyHandle is returned when an analysis handle is blank.
var ErrEmptyHandle = errors.New("analysis handle is empty")

// String returns the handle value.
func (h AnalysisHandle) String() string {
	return string(h)
}

// Validate returns ErrEmptyHandle for a blank handle.
func (h AnalysisHandle) Validate() error {
	if h == "" {
		return ErrEmptyHandle
	}
	return nil
}

// Category is an engine's classification of the analyzed target.
type Category string

const (
	CategoryHarmless   Category = "harmless"
	CategoryMalicious  Category = "malicious"
	CategorySuspicious Category = "suspicious"
	CategoryUndetected Category = "undetected"
	CategoryTimeout    Category = "timeout"
)

// IsDetection returns true for malicious or suspicious categories.
func (c Category) IsDetection() bool {
	return c == CategoryMalicious || c == CategorySuspicious
}

// AnalysisStatus is the remote status string of an analysis.
type AnalysisStatus string

const (
	AnalysisStatusQueued     AnalysisStatus = "queued"
	AnalysisStatusInProgress AnalysisStatus = "in-progress"
	AnalysisStatusCompleted  AnalysisStatus = "completed"
	AnalysisStatusUnknown    AnalysisStatus = "unknown"
)

// String returns the status value, or "unknown" when blank.
func (s AnalysisStatus) String() string {
	if s == "" {
		return string(AnalysisStatusUnknown)
	}
	return string(s)
}

// IsCompleted returns true when the remote service reports completion.
func (s AnalysisStatus) IsCompleted() bool {
	return s == AnalysisStatusCompleted
}

// EngineVerdict is one engine's result inside a snapshot.
type EngineVerdict struct {
	EngineName string   `json:"engine_name"`
	Category   Category `json:"category"`
	Method     string   `json:"method,omitempty"`

	// ResultLabel is nil until the engine has reported.
	ResultLabel *string `json:"result,omitempty"`
}

// HasResult returns true if the engine reported a result label.
func (v EngineVerdict) HasResult() bool {
	return v.ResultLabel != nil
}

// Label returns the result label, or an empty string when not reported.
func (v EngineVerdict) Label() string {
	if v.ResultLabel == nil {
		return ""
	}
	return *v.ResultLabel
}

// AnalysisStats holds the per-category counts reported by the service.
// The counts need not add up to the number of engine results.
type AnalysisStats struct {
	Harmless   int `json:"harmless"`
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Timeout    int `json:"timeout"`
}

// AnalysisSnapshot is one read of the remote analysis state.
type AnalysisSnapshot struct {
	Handle        AnalysisHandle           `json:"handle"`
	Status        AnalysisStatus           `json:"status"`
	Stats         AnalysisStats            `json:"stats"`
	EngineResults map[string]EngineVerdict `json:"engine_results"`
	FetchedAt     time.Time                `json:"fetched_at"`
}

// TotalEngines returns the number of engines listed in the results.
func (s *AnalysisSnapshot) TotalEngines() int {
	return len(s.EngineResults)
}

// ScannedEngines returns the number of engines with a non-nil result label.
func (s *AnalysisSnapshot) ScannedEngines() int {
	n := 0
	for _, v := range s.EngineResults {
		if v.HasResult() {
			n++
		}
	}
	return n
}

// ReachedThreshold reports whether at least percent% of the listed engines
// have reported. A snapshot without engines never reaches the threshold.
func (s *AnalysisSnapshot) ReachedThreshold(percent int) bool {
	total := s.TotalEngines()
	if total == 0 {
		return false
	}
	return s.ScannedEngines()*100 >= total*percent
}
