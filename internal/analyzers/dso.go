package analyzers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	dsoThreadIDRe = regexp.MustCompile(`OS Thread Id:\s*0x([0-9a-fA-F]+)\s*\((\d+)\)`)

	// RSP/REG Object Name
	dsoRowRe = regexp.MustCompile(`^([0-9A-Fa-f]{16})\s+([0-9A-Fa-f]{16})\s+(.+)$`)
)

// StackObject is one object reference found on a thread's stack.
type StackObject struct {
	StackPointer string
	Address      string
	FullType     string
	ShortType    string
}

// StackObjectsAnalyzer parses !dso output into per-type frequencies and
// notable object patterns.
type StackObjectsAnalyzer struct{}

func NewStackObjectsAnalyzer() *StackObjectsAnalyzer { return &StackObjectsAnalyzer{} }

func (a *StackObjectsAnalyzer) Name() string        { return "dso" }
func (a *StackObjectsAnalyzer) Description() string { return "stack object listing and type frequency from !dso" }
func (a *StackObjectsAnalyzer) Tier() int           { return 1 }

func (a *StackObjectsAnalyzer) CanAnalyze(command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	return cmd == "!dso" || strings.HasPrefix(cmd, "!dso ") || strings.HasPrefix(cmd, "!dumpstackobjects")
}

func (a *StackObjectsAnalyzer) Analyze(command, output string) *AnalysisResult {
	threadID := "unknown"
	if m := dsoThreadIDRe.FindStringSubmatch(output); m != nil {
		threadID = fmt.Sprintf("0x%s (%s)", m[1], m[2])
	}

	objects := extractStackObjects(output)
	if len(objects) == 0 {
		return &AnalysisResult{
			StructuredData: map[string]any{
				"thread_id":    threadID,
				"object_count": 0,
			},
			Summary:  fmt.Sprintf("Thread %s: no managed objects on stack", threadID),
			Findings: []string{"Thread may be in native code or idle"},
			Metadata: meta(a.Name(), a.Tier()),
			Success:  true,
		}
	}

	typeCounts := map[string]int{}
	for _, o := range objects {
		typeCounts[o.ShortType]++
	}
	type typeCount struct {
		name  string
		count int
	}
	ranked := make([]typeCount, 0, len(typeCounts))
	for name, n := range typeCounts {
		ranked = append(ranked, typeCount{name, n})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })

	var patterns []string
	exceptions := 0
	for _, o := range objects {
		if strings.Contains(o.FullType, "Exception") {
			exceptions++
		}
	}
	if exceptions > 0 {
		patterns = append(patterns, fmt.Sprintf("%d exception object(s) on stack", exceptions))
	}
	for _, tc := range ranked {
		if tc.count >= 5 {
			patterns = append(patterns, fmt.Sprintf("%s appears %d times (possible recursion or tight loop)", tc.name, tc.count))
		}
	}
	syncObjs, sqlObjs := 0, 0
	for _, o := range objects {
		switch {
		case strings.Contains(o.FullType, "Monitor"), strings.Contains(o.FullType, "Mutex"),
			strings.Contains(o.FullType, "Semaphore"), strings.Contains(o.FullType, "Lock"):
			syncObjs++
		case strings.Contains(o.FullType, "Sql"), strings.Contains(o.FullType, "Database"):
			sqlObjs++
		}
	}
	if syncObjs > 0 {
		patterns = append(patterns, fmt.Sprintf("%d synchronization object(s) on stack", syncObjs))
	}
	if sqlObjs > 0 {
		patterns = append(patterns, fmt.Sprintf("%d database-related object(s) on stack", sqlObjs))
	}

	findings := []string{
		fmt.Sprintf("%d objects on stack, %d unique types", len(objects), len(typeCounts)),
	}
	if len(ranked) > 0 {
		limit := len(ranked)
		if limit > 3 {
			limit = 3
		}
		var top []string
		for _, tc := range ranked[:limit] {
			top = append(top, fmt.Sprintf("%s(%d)", tc.name, tc.count))
		}
		findings = append(findings, "Most common: "+strings.Join(top, ", "))
	}
	findings = append(findings, patterns...)
	if exceptions > 0 {
		findings = append(findings, "Exception object on stack, thread may be handling an error")
	}

	summary := fmt.Sprintf("Thread %s: %d objects on stack", threadID, len(objects))
	if len(ranked) > 0 {
		summary += fmt.Sprintf(", dominated by %s(%d)", ranked[0].name, ranked[0].count)
	}
	if len(patterns) > 0 {
		summary += ", " + patterns[0]
	}

	md := meta(a.Name(), a.Tier())
	md["object_count"] = len(objects)

	return &AnalysisResult{
		StructuredData: map[string]any{
			"thread_id":    threadID,
			"object_count": len(objects),
			"objects":      objects,
			"type_counts":  typeCounts,
			"patterns":     patterns,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func extractStackObjects(output string) []StackObject {
	var objects []StackObject
	for _, line := range splitLines(output) {
		m := dsoRowRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		full := strings.TrimSpace(m[3])
		short := full
		if i := strings.LastIndex(short, "."); i >= 0 {
			short = short[i+1:]
		}
		// Drop generic/array suffixes from the short name.
		if i := strings.IndexAny(short, "[<"); i >= 0 {
			short = short[:i]
		}
		objects = append(objects, StackObject{
			StackPointer: m[1],
			Address:      m[2],
			FullType:     full,
			ShortType:    short,
		})
	}
	return objects
}
