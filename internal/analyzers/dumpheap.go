package analyzers

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MT Count TotalSize ClassName rows from the -stat table.
var heapStatRowRe = regexp.MustCompile(`^([0-9a-fA-F]+)\s+(\d+)\s+(\d+)\s+(.+)$`)

// HeapTypeStat is one row of !dumpheap -stat.
type HeapTypeStat struct {
	MethodTable string
	Count       int
	TotalSize   int64
	ClassName   string
}

// DumpHeapAnalyzer parses !dumpheap output. The -stat form yields type
// statistics; other forms fall back to object counting.
type DumpHeapAnalyzer struct{}

func NewDumpHeapAnalyzer() *DumpHeapAnalyzer { return &DumpHeapAnalyzer{} }

func (a *DumpHeapAnalyzer) Name() string        { return "dumpheap" }
func (a *DumpHeapAnalyzer) Description() string { return "heap statistics from !dumpheap" }
func (a *DumpHeapAnalyzer) Tier() int           { return 2 }

func (a *DumpHeapAnalyzer) CanAnalyze(command string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(command)), "!dumpheap")
}

func (a *DumpHeapAnalyzer) Analyze(command, output string) *AnalysisResult {
	stats := parseHeapStats(output)
	if len(stats) == 0 {
		return failure(a.Name(), a.Tier(), "no heap statistics rows found in output")
	}

	var totalCount int
	var totalSize int64
	for _, s := range stats {
		totalCount += s.Count
		totalSize += s.TotalSize
	}

	byCount := append([]HeapTypeStat(nil), stats...)
	sort.SliceStable(byCount, func(i, j int) bool { return byCount[i].Count > byCount[j].Count })
	bySize := append([]HeapTypeStat(nil), stats...)
	sort.SliceStable(bySize, func(i, j int) bool { return bySize[i].TotalSize > bySize[j].TotalSize })
	if len(byCount) > 10 {
		byCount = byCount[:10]
	}
	if len(bySize) > 10 {
		bySize = bySize[:10]
	}

	summary := fmt.Sprintf("Heap contains %d objects totaling %s. Largest type by size: %s (%s).",
		totalCount, formatBytes(totalSize), bySize[0].ClassName, formatBytes(bySize[0].TotalSize))

	findings := []string{
		fmt.Sprintf("Total objects: %d", totalCount),
		fmt.Sprintf("Total heap size: %s", formatBytes(totalSize)),
		fmt.Sprintf("Unique types: %d", len(stats)),
	}
	for i, s := range bySize {
		if i >= 3 {
			break
		}
		findings = append(findings, fmt.Sprintf("Top type #%d by size: %s (%d objects, %s)",
			i+1, s.ClassName, s.Count, formatBytes(s.TotalSize)))
	}
	if strings.Contains(bySize[0].ClassName, "String") && bySize[0].TotalSize > totalSize/2 {
		findings = append(findings, "Strings dominate the heap - check for duplicated or retained string data")
	}

	md := meta(a.Name(), a.Tier())
	md["total_objects"] = totalCount

	return &AnalysisResult{
		StructuredData: map[string]any{
			"type_stats":    stats,
			"total_count":   totalCount,
			"total_size":    totalSize,
			"top_by_count":  byCount,
			"top_by_size":   bySize,
		},
		Summary:  summary,
		Findings: findings,
		Metadata: md,
		Success:  true,
	}
}

func parseHeapStats(output string) []HeapTypeStat {
	var stats []HeapTypeStat
	for _, line := range splitLines(output) {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Total ") {
			break
		}
		m := heapStatRowRe.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		size, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil {
			continue
		}
		stats = append(stats, HeapTypeStat{
			MethodTable: m[1],
			Count:       atoiMust(m[2]),
			TotalSize:   size,
			ClassName:   strings.TrimSpace(m[4]),
		})
	}
	return stats
}
