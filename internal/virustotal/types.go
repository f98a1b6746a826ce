// ABOUTME: Wire types for the multi-engine analysis service JSON API
// ABOUTME: Decodes submission and analysis payloads and converts them to domain snapshots

package virustotal

import (
	"time"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// submissionResponse is returned by POST /files and POST /urls.
type submissionResponse struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

// AnalysisResponse is returned by GET /analyses/{id}.
type AnalysisResponse struct {
	Data AnalysisData `json:"data"`
}

// AnalysisData wraps the analysis object.
type AnalysisData struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	Attributes AnalysisAttributes `json:"attributes"`
}

// AnalysisAttributes holds the analysis state.
type AnalysisAttributes struct {
	Status  string                  `json:"status"`
	Date    int64                   `json:"date,omitempty"`
	Stats   AnalysisStats           `json:"stats"`
	Results map[string]EngineResult `json:"results"`
}

// AnalysisStats holds per-category engine counts.
type AnalysisStats struct {
	Harmless         int `json:"harmless"`
	Malicious        int `json:"malicious"`
	Suspicious       int `json:"suspicious"`
	Undetected       int `json:"undetected"`
	Timeout          int `json:"timeout"`
	TypeUnsupported  int `json:"type-unsupported,omitempty"`
	ConfirmedTimeout int `json:"confirmed-timeout,omitempty"`
	Failure          int `json:"failure,omitempty"`
}

// EngineResult is one engine's entry in the results map.
// Result is null until the engine has produced a label.
type EngineResult struct {
	Category      string  `json:"category"`
	EngineName    string  `json:"engine_name"`
	EngineVersion string  `json:"engine_version,omitempty"`
	Method        string  `json:"method,omitempty"`
	Result        *string `json:"result"`
}

// ErrorResponse is the JSON error envelope returned on non-2xx responses.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Snapshot converts the response into a domain snapshot fetched at the given time.
func (r *AnalysisResponse) Snapshot(fetchedAt time.Time) *types.AnalysisSnapshot {
	attrs := r.Data.Attributes

	results := make(map[string]types.EngineVerdict, len(attrs.Results))
	for key, er := range attrs.Results {
		results[key] = types.EngineVerdict{
			EngineName:  key,
			Category:    types.Category(er.Category),
			Method:      er.Method,
			ResultLabel: er.Result,
		}
	}

	return &types.AnalysisSnapshot{
		Handle: types.AnalysisHandle(r.Data.ID),
		Status: types.AnalysisStatus(attrs.Status),
		Stats: types.AnalysisStats{
			Harmless:   attrs.Stats.Harmless,
			Malicious:  attrs.Stats.Malicious,
			Suspicious: attrs.Stats.Suspicious,
			Undetected: attrs.Stats.Undetected,
			Timeout:    attrs.Stats.Timeout,
		},
		EngineResults: results,
		FetchedAt:     fetchedAt,
	}
}
