// Package analyzers turns raw debugger output into structured findings.
// Analyzers are tiered by cost: tier 1 is pure text parsing, tiers 2 and
// 3 perform progressively heavier analysis. A failed parse is reported
// through AnalysisResult, never as a panic or error past the registry
// boundary.
package analyzers

import (
	"fmt"
	"strings"
)

// AnalysisResult is the output contract of every analyzer. Success=false
// suppresses the structured fields but never aborts the investigation.
type AnalysisResult struct {
	StructuredData map[string]any
	Summary        string
	Findings       []string
	Metadata       map[string]any
	Success        bool
	Err            string
}

// Analyzer parses the output of one diagnostic command family.
type Analyzer interface {
	Name() string
	Description() string
	Tier() int
	CanAnalyze(command string) bool
	Analyze(command, output string) *AnalysisResult
}

// failure builds the uniform error result analyzers return when parsing
// goes wrong.
func failure(name string, tier int, format string, args ...any) *AnalysisResult {
	return &AnalysisResult{
		StructuredData: map[string]any{},
		Metadata:       map[string]any{"analyzer": name, "tier": tier},
		Success:        false,
		Err:            fmt.Sprintf(format, args...),
	}
}

// meta builds the standard metadata map.
func meta(name string, tier int) map[string]any {
	return map[string]any{"analyzer": name, "tier": tier}
}

// splitLines handles the three line-ending styles seen in debugger
// transcripts: \r\n, \n, and bare \r.
func splitLines(output string) []string {
	switch {
	case strings.Contains(output, "\r\n"):
		return strings.Split(output, "\r\n")
	case strings.Contains(output, "\n"):
		return strings.Split(output, "\n")
	default:
		return strings.Split(output, "\r")
	}
}

// formatBytes renders a byte count for summaries.
func formatBytes(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d bytes", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	case size < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", float64(size)/(1024*1024*1024))
	}
}
