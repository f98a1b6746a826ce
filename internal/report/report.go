// ABOUTME: Result aggregator building the plain-text scan report from an analysis snapshot
// ABOUTME: Lists malicious and suspicious engines and keeps a parseable "Malicious: N" line

package report

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/types"
)

// Header is the first line of every report.
const Header = "Scan Results"

// NoMaliciousLine replaces the malicious listing when no engine flagged the target.
const NoMaliciousLine = "No malicious engines detected."

// maliciousLine matches the stats line carrying the malicious engine count.
var maliciousLine = regexp.MustCompile(`(?m)^Malicious:\s*(\d+)`)

// Finding is one engine's detection.
type Finding struct {
	Engine string `json:"engine"`
	Label  string `json:"label"`
	Method string `json:"method,omitempty"`
}

// Report is the aggregated view of a snapshot.
type Report struct {
	Text           string              `json:"text"`
	MaliciousCount int                 `json:"malicious_count"`
	Stats          types.AnalysisStats `json:"stats"`
	TotalEngines   int                 `json:"total_engines"`
	ScannedEngines int                 `json:"scanned_engines"`
	Malicious      []Finding           `json:"malicious,omitempty"`
	Suspicious     []Finding           `json:"suspicious,omitempty"`
}

// Aggregate builds the report for a snapshot. Displayed counts come from the
// snapshot stats; listings come from the per-engine results.
func Aggregate(snap *types.AnalysisSnapshot) Report {
	if snap == nil {
		snap = &types.AnalysisSnapshot{}
	}

	r := Report{
		MaliciousCount: snap.Stats.Malicious,
		Stats:          snap.Stats,
		TotalEngines:   snap.TotalEngines(),
		ScannedEngines: snap.ScannedEngines(),
	}

	for key, v := range snap.EngineResults {
		name := key
		if name == "" {
			name = v.EngineName
		}
		f := Finding{Engine: name, Label: labelOf(v), Method: v.Method}
		switch v.Category {
		case types.CategoryMalicious:
			r.Malicious = append(r.Malicious, f)
		case types.CategorySuspicious:
			r.Suspicious = append(r.Suspicious, f)
		}
	}
	sortFindings(r.Malicious)
	sortFindings(r.Suspicious)

	r.Text = render(r)
	return r
}

func labelOf(v types.EngineVerdict) string {
	if !v.HasResult() || v.Label() == "" {
		return "unknown"
	}
	return v.Label()
}

func sortFindings(fs []Finding) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].Engine != fs[j].Engine {
			return fs[i].Engine < fs[j].Engine
		}
		return fs[i].Label < fs[j].Label
	})
}

func render(r Report) string {
	var sb strings.Builder

	sb.WriteString(Header + "\n\n")
	fmt.Fprintf(&sb, "Malicious: %d\n", r.Stats.Malicious)
	fmt.Fprintf(&sb, "Suspicious: %d\n", r.Stats.Suspicious)
	fmt.Fprintf(&sb, "Harmless: %d\n", r.Stats.Harmless)
	fmt.Fprintf(&sb, "Undetected: %d\n", r.Stats.Undetected)
	fmt.Fprintf(&sb, "Timeout: %d\n", r.Stats.Timeout)
	fmt.Fprintf(&sb, "Total Engines: %d\n", r.TotalEngines)
	fmt.Fprintf(&sb, "Scanned Engines: %d\n", r.ScannedEngines)

	sb.WriteString("\n")
	if len(r.Malicious) == 0 {
		sb.WriteString(NoMaliciousLine + "\n")
	} else {
		sb.WriteString("Malicious Engines:\n")
		writeFindings(&sb, r.Malicious)
	}

	if len(r.Suspicious) > 0 {
		sb.WriteString("\nSuspicious Engines:\n")
		writeFindings(&sb, r.Suspicious)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func writeFindings(sb *strings.Builder, fs []Finding) {
	for i, f := range fs {
		fmt.Fprintf(sb, "%d. %s: %s\n", i+1, f.Engine, f.Label)
	}
}

// ExtractMaliciousCount re-derives the malicious engine count from report
// text. The second result is false when no "Malicious: N" line is present.
func ExtractMaliciousCount(text string) (int, bool) {
	m := maliciousLine.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
