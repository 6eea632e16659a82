package analyzers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	gcHandleStatsRes = map[string]*regexp.Regexp{
		"strong":        regexp.MustCompile(`(?i)Strong\s+Handles:\s*(\d+)`),
		"pinned":        regexp.MustCompile(`(?i)Pinned\s+Handles:\s*(\d+)`),
		"weak_short":    regexp.MustCompile(`(?i)Weak\s+Short\s+Handles:\s*(\d+)`),
		"weak_long":     regexp.MustCompile(`(?i)Weak\s+Long\s+Handles:\s*(\d+)`),
		"total_handles": regexp.MustCompile(`(?i)Total\s+Handles:\s*(\d+)`),
	}

	// Handle Address Object Type
	gcHandleRowRe = regexp.MustCompile(`^([0-9a-fA-F]+)\s+0x([0-9a-fA-F]+)\s+0x([0-9a-fA-F]+)\s+(\w+)`)
)

// GCHandle is one parsed row of the !gchandles table.
type GCHandle struct {
	Handle  string
	Address string
	Object  string
	Type    string
}

// GCHandlesAnalyzer parses the GC handle table from !gchandles and
// flags excessive pinning and handle leaks.
type GCHandlesAnalyzer struct{}

func NewGCHandlesAnalyzer() *GCHandlesAnalyzer { return &GCHandlesAnalyzer{} }

func (a *GCHandlesAnalyzer) Name() string        { return "gchandles" }
func (a *GCHandlesAnalyzer) Description() string { return "pinned object and handle leak detection from !gchandles" }
func (a *GCHandlesAnalyzer) Tier() int           { return 2 }

func (a *GCHandlesAnalyzer) CanAnalyze(command string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(command)), "!gchandles")
}

// Rows parsed beyond this bound only contribute to the total count.
const maxGCHandleRows = 1000

func (a *GCHandlesAnalyzer) Analyze(command, output string) *AnalysisResult {
	stats := map[string]int{}
	for key, re := range gcHandleStatsRes {
		if m := re.FindStringSubmatch(output); m != nil {
			stats[key] = atoiMust(m[1])
		}
	}

	var handles []GCHandle
	for _, line := range splitLines(output) {
		if len(handles) >= maxGCHandleRows {
			break
		}
		m := gcHandleRowRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		handles = append(handles, GCHandle{Handle: m[1], Address: m[2], Object: m[3], Type: m[4]})
	}

	if len(stats) == 0 && len(handles) == 0 {
		return failure(a.Name(), a.Tier(), "no handle statistics or rows found in gchandles output")
	}

	typeCounts := map[string]int{}
	for _, h := range handles {
		typeCounts[h.Type]++
	}

	total := stats["total_handles"]
	if total == 0 {
		total = len(handles)
	}

	findings := []string{
		fmt.Sprintf("Total GC handles: %d", total),
		fmt.Sprintf("Handle types: %d", len(typeCounts)),
	}
	names := make([]string, 0, len(typeCounts))
	for name := range typeCounts {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool { return typeCounts[names[i]] > typeCounts[names[j]] })
	limit := len(names)
	if limit > 5 {
		limit = 5
	}
	for _, name := range names[:limit] {
		findings = append(findings, fmt.Sprintf("%s: %d", name, typeCounts[name]))
	}

	var issues []string
	if pinned := stats["pinned"]; pinned > 1000 {
		issues = append(issues, fmt.Sprintf("High pinned handle count: %d (may fragment the heap and prevent GC compaction)", pinned))
	}
	if total > 10000 {
		issues = append(issues, fmt.Sprintf("Very high handle count: %d (potential handle leak)", total))
	}
	findings = append(findings, issues...)

	summary := fmt.Sprintf("Found %d GC handles across %d types.", total, len(typeCounts))
	if len(issues) > 0 {
		summary += " " + issues[0]
	} else if total <= 100 {
		summary += " Low handle count, no concerns."
	}

	md := meta(a.Name(), a.Tier())
	md["handle_count"] = total

	return &AnalysisResult{
		StructuredData: map[string]any{
			"stats":       stats,
			"type_counts": typeCounts,
			"total":       total,
			"handles":     handles,
			"issues":      issues,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}
