package analyzers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	osHandleRe     = regexp.MustCompile(`^Handle\s+([0-9a-fA-F]+)`)
	osHandleTypeRe = regexp.MustCompile(`^Type\s+(\S.*)`)
)

// Per-type counts above these bounds suggest a leak of that resource.
var handleIssueThresholds = map[string]int{
	"Event":     1000,
	"Thread":    500,
	"File":      200,
	"Mutant":    100,
	"Semaphore": 100,
	"Section":   500,
	"Key":       100,
}

// OSHandle is one handle/type pair from !handle output.
type OSHandle struct {
	Handle string
	Type   string
}

// HandleAnalyzer parses Windows handle listings from !handle and flags
// excessive per-type counts.
type HandleAnalyzer struct{}

func NewHandleAnalyzer() *HandleAnalyzer { return &HandleAnalyzer{} }

func (a *HandleAnalyzer) Name() string        { return "handle" }
func (a *HandleAnalyzer) Description() string { return "Windows handle usage and leak detection from !handle" }
func (a *HandleAnalyzer) Tier() int           { return 1 }

func (a *HandleAnalyzer) CanAnalyze(command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	return cmd == "!handle" || strings.HasPrefix(cmd, "!handle ")
}

func (a *HandleAnalyzer) Analyze(command, output string) *AnalysisResult {
	handles := extractOSHandles(output)
	if len(handles) == 0 {
		return &AnalysisResult{
			StructuredData: map[string]any{"handle_count": 0},
			Summary:        "No handles found",
			Findings:       []string{"Process may have just started or handles were not enumerated"},
			Metadata:       meta(a.Name(), a.Tier()),
			Success:        true,
		}
	}

	typeCounts := map[string]int{}
	for _, h := range handles {
		typeCounts[h.Type]++
	}
	names := make([]string, 0, len(typeCounts))
	for name := range typeCounts {
		names = append(names, name)
	}
	sort.SliceStable(names, func(i, j int) bool { return typeCounts[names[i]] > typeCounts[names[j]] })

	var issues []string
	for handleType, threshold := range handleIssueThresholds {
		count := typeCounts[handleType]
		if count <= threshold {
			continue
		}
		severity := "elevated"
		if count > threshold*2 {
			severity = "excessive"
		}
		issues = append(issues, fmt.Sprintf("%s handle count %s: %d (threshold %d)", handleType, severity, count, threshold))
	}
	sort.Strings(issues)
	switch {
	case len(handles) > 5000:
		issues = append(issues, fmt.Sprintf("Total handle count very high: %d", len(handles)))
	case len(handles) > 2000:
		issues = append(issues, fmt.Sprintf("Total handle count elevated: %d", len(handles)))
	}

	var patterns []string
	if n := typeCounts["TpWorkerFactory"]; n > 0 {
		patterns = append(patterns, fmt.Sprintf("thread pool active: %d worker factory handle(s)", n))
	}
	if n := typeCounts["IoCompletion"]; n > 5 {
		patterns = append(patterns, fmt.Sprintf("heavy async IO: %d completion port handle(s)", n))
	}
	if n := typeCounts["Event"]; n > 100 {
		patterns = append(patterns, fmt.Sprintf("heavy synchronization: %d Event handles", n))
	}

	findings := []string{
		fmt.Sprintf("%d total handles, %d unique types", len(handles), len(typeCounts)),
	}
	limit := len(names)
	if limit > 5 {
		limit = 5
	}
	var top []string
	for _, name := range names[:limit] {
		top = append(top, fmt.Sprintf("%s(%d)", name, typeCounts[name]))
	}
	findings = append(findings, "Most common: "+strings.Join(top, ", "))
	findings = append(findings, issues...)
	findings = append(findings, patterns...)
	if len(issues) > 0 {
		findings = append(findings, "Investigate handle allocation with !htrace or repeated dumps to confirm a leak trend")
	}

	summary := fmt.Sprintf("%d handles", len(handles))
	if len(names) > 0 {
		topName := names[0]
		summary += fmt.Sprintf(", %s(%d, %.0f%%)", topName, typeCounts[topName],
			float64(typeCounts[topName])/float64(len(handles))*100)
	}
	if len(issues) > 0 {
		summary += fmt.Sprintf(", %d potential leak issue(s)", len(issues))
	}

	md := meta(a.Name(), a.Tier())
	md["handle_count"] = len(handles)
	md["has_issues"] = len(issues) > 0

	return &AnalysisResult{
		StructuredData: map[string]any{
			"handle_count": len(handles),
			"handles":      handles,
			"type_counts":  typeCounts,
			"issues":       issues,
			"patterns":     patterns,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

// extractOSHandles pairs each "Handle <id>" line with the "Type <name>"
// line that follows it.
func extractOSHandles(output string) []OSHandle {
	var handles []OSHandle
	current := ""
	for _, line := range splitLines(output) {
		trimmed := strings.TrimSpace(line)
		if m := osHandleRe.FindStringSubmatch(trimmed); m != nil {
			current = m[1]
			continue
		}
		if current == "" {
			continue
		}
		if m := osHandleTypeRe.FindStringSubmatch(trimmed); m != nil {
			handles = append(handles, OSHandle{Handle: current, Type: strings.TrimSpace(m[1])})
			current = ""
		}
	}
	return handles
}
